package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Service resolves dialed numbers against the configured store.
type Service struct {
	store Store
	dir   Directory
	log   *slog.Logger
}

func NewService(store Store, dir Directory, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, dir: dir, log: log}
}

// Lookup maps a dialed number to its company binding.
func (s *Service) Lookup(ctx context.Context, number string) (NumberBinding, error) {
	if s.dir == nil {
		return NumberBinding{}, errors.New("rules: directory not configured")
	}
	return s.dir.LookupNumber(ctx, number)
}

// Snapshot loads the company configuration, logging any rules that failed validation.
func (s *Service) Snapshot(ctx context.Context, companyID string) (Snapshot, error) {
	if companyID == "" {
		return Snapshot{}, errors.New("rules: company_id required")
	}
	if s.store == nil {
		return Snapshot{}, errors.New("rules: store not configured")
	}
	snap, err := s.store.LoadSnapshot(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}
	for _, rej := range snap.Rejected {
		s.log.Warn("routing rule rejected", "company_id", companyID, "rule_id", rej.RuleID, "err", rej.Err)
	}
	return snap, nil
}

// Resolve loads the company snapshot and resolves phoneNumberID at instant at.
func (s *Service) Resolve(ctx context.Context, companyID, phoneNumberID string, at time.Time) (Resolution, Snapshot, error) {
	snap, err := s.Snapshot(ctx, companyID)
	if err != nil {
		return Resolution{}, Snapshot{}, err
	}
	res, err := Resolve(snap, phoneNumberID, at)
	if errors.Is(err, ErrAmbiguousRule) {
		s.log.Error("ambiguous routing configuration", "company_id", companyID, "phone_number_id", phoneNumberID, "err", err)
	}
	return res, snap, err
}
