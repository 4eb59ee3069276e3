package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"call-router/internal/availability"
	"call-router/internal/ivr"
	"call-router/internal/rules"
)

// seed is the on-disk shape of SEED_FILE. Rules, holidays, numbers and
// menus apply to the memory config backend; agents go to whichever roster
// is configured.
type seed struct {
	Numbers        []rules.NumberBinding     `json:"numbers"`
	DefaultForward map[string]string         `json:"default_forward"`
	Rules          []rules.RoutingRule       `json:"rules"`
	Holidays       []rules.Holiday           `json:"holidays"`
	Menus          []ivr.Menu                `json:"menus"`
	Agents         []availability.AgentState `json:"agents"`
}

func loadSeed(ctx context.Context, path string, store *rules.MemoryStore, menus *ivr.MemoryStore, roster availability.Tracker) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	var s seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("seed: %s: %w", path, err)
	}

	var errs []error
	hasConfig := len(s.Numbers)+len(s.Rules)+len(s.Holidays)+len(s.Menus)+len(s.DefaultForward) > 0
	switch {
	case hasConfig && (store == nil || menus == nil):
		errs = append(errs, errors.New("seed: rules, numbers and menus need CONFIG_BACKEND=memory"))
	case hasConfig:
		for _, b := range s.Numbers {
			store.BindNumber(b)
		}
		for company, number := range s.DefaultForward {
			store.SetDefaultForward(company, number)
		}
		for _, r := range s.Rules {
			if err := store.PutRule(r); err != nil {
				errs = append(errs, fmt.Errorf("seed: rule %s: %w", r.ID, err))
			}
		}
		for _, h := range s.Holidays {
			if err := store.PutHoliday(h); err != nil {
				errs = append(errs, fmt.Errorf("seed: holiday %s: %w", h.ID, err))
			}
		}
		byCompany := map[string][]ivr.Menu{}
		for _, m := range s.Menus {
			byCompany[m.CompanyID] = append(byCompany[m.CompanyID], m)
		}
		for company, ms := range byCompany {
			if err := menus.Put(company, ms); err != nil {
				errs = append(errs, fmt.Errorf("seed: menus of %s: %w", company, err))
			}
		}
	}

	for _, a := range s.Agents {
		if err := roster.Upsert(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("seed: agent %s: %w", a.AgentID, err))
		}
	}
	return errors.Join(errs...)
}
