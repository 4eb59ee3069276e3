package ivr

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrCycle       = errors.New("ivr: menu graph contains a cycle")
	ErrUnknownMenu = errors.New("ivr: unknown menu")
	ErrInvalidKey  = errors.New("ivr: invalid dtmf key")
	ErrInvalidMenu = errors.New("ivr: invalid menu")
)

const (
	DefaultTimeout       = 5 * time.Second
	DefaultInvalidPrompt = "Sorry, that is not a valid option."
	DefaultTimeoutPrompt = "We did not receive a selection."
	DefaultGoodbye       = "We are unable to take your call right now. Please call back later. Goodbye."
)

type OptionAction string

const (
	OptionSubmenu      OptionAction = "submenu"
	OptionTransferRule OptionAction = "transfer_rule"
	OptionVoicemail    OptionAction = "voicemail"
	OptionPlayHangup   OptionAction = "play_hangup"
)

// Option is what pressing one DTMF key does.
type Option struct {
	Action    OptionAction `json:"action" validate:"required,oneof=submenu transfer_rule voicemail play_hangup"`
	SubmenuID string       `json:"submenu_id,omitempty"`
	RuleID    string       `json:"rule_id,omitempty"`
	Message   string       `json:"message,omitempty"`
}

type TimeoutAction string

const (
	TimeoutTransferRule TimeoutAction = "transfer_rule"
	TimeoutVoicemail    TimeoutAction = "voicemail"
	TimeoutHangup       TimeoutAction = "hangup"
)

// Menu is one node of a company's IVR tree.
type Menu struct {
	ID           string `json:"id" validate:"required"`
	CompanyID    string `json:"company_id" validate:"required"`
	ParentMenuID string `json:"parent_menu_id,omitempty"`
	Name         string `json:"name,omitempty"`

	Greeting string            `json:"greeting"`
	Options  map[string]Option `json:"options" validate:"dive"`

	TimeoutSeconds       int    `json:"timeout_seconds" validate:"gte=0,lte=60"`
	MaxRetries           int    `json:"max_retries" validate:"gte=0,lte=10"`
	InvalidOptionMessage string `json:"invalid_option_message,omitempty"`
	TimeoutMessage       string `json:"timeout_message,omitempty"`

	// TimeoutAction fires once retries are exhausted or the IVR ceiling is hit.
	TimeoutAction TimeoutAction `json:"timeout_action,omitempty" validate:"omitempty,oneof=transfer_rule voicemail hangup"`
	TimeoutRuleID string        `json:"timeout_rule_id,omitempty"`
}

func (m Menu) timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func (m Menu) invalidPrompt() string {
	if m.InvalidOptionMessage == "" {
		return DefaultInvalidPrompt
	}
	return m.InvalidOptionMessage
}

func (m Menu) timeoutPrompt() string {
	if m.TimeoutMessage == "" {
		return DefaultTimeoutPrompt
	}
	return m.TimeoutMessage
}

// Keys returns the configured DTMF keys in dial-pad order.
func (m Menu) Keys() []string {
	keys := make([]string, 0, len(m.Options))
	for k := range m.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validKey(k string) bool {
	if len(k) != 1 {
		return false
	}
	c := k[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}

var validate = validator.New()

// Graph is an immutable, validated arena of menus keyed by ID.
type Graph struct {
	menus map[string]Menu
}

// NewGraph validates menus and builds the arena. It rejects dangling
// references, invalid keys and any cycle through submenu or parent links.
func NewGraph(menus []Menu) (*Graph, error) {
	g := &Graph{menus: make(map[string]Menu, len(menus))}
	for _, m := range menus {
		if err := validate.Struct(m); err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrInvalidMenu, m.ID, err)
		}
		if _, dup := g.menus[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidMenu, m.ID)
		}
		g.menus[m.ID] = m
	}

	for _, m := range g.menus {
		if m.ParentMenuID != "" {
			if _, ok := g.menus[m.ParentMenuID]; !ok {
				return nil, fmt.Errorf("%w: %s parent %s", ErrUnknownMenu, m.ID, m.ParentMenuID)
			}
		}
		if m.TimeoutAction == TimeoutTransferRule && m.TimeoutRuleID == "" {
			return nil, fmt.Errorf("%w %s: timeout transfer needs a rule", ErrInvalidMenu, m.ID)
		}
		for k, o := range m.Options {
			if !validKey(k) {
				return nil, fmt.Errorf("%w %q in menu %s", ErrInvalidKey, k, m.ID)
			}
			switch o.Action {
			case OptionSubmenu:
				if _, ok := g.menus[o.SubmenuID]; !ok {
					return nil, fmt.Errorf("%w: %s key %s -> %s", ErrUnknownMenu, m.ID, k, o.SubmenuID)
				}
			case OptionTransferRule:
				if o.RuleID == "" {
					return nil, fmt.Errorf("%w %s: key %s transfer needs a rule", ErrInvalidMenu, m.ID, k)
				}
			}
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic walks submenu edges and parent links separately; neither
// relation may loop back on itself.
func (g *Graph) checkAcyclic() error {
	ids := make([]string, 0, len(g.menus))
	for id := range g.menus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, follow := range []func(Menu) []string{g.childEdges, g.parentEdges} {
		const (
			white = iota
			grey
			black
		)
		color := make(map[string]int, len(g.menus))
		var visit func(id string) error
		visit = func(id string) error {
			color[id] = grey
			for _, next := range follow(g.menus[id]) {
				switch color[next] {
				case grey:
					return fmt.Errorf("%w: %s -> %s", ErrCycle, id, next)
				case white:
					if err := visit(next); err != nil {
						return err
					}
				}
			}
			color[id] = black
			return nil
		}
		for _, id := range ids {
			if color[id] == white {
				if err := visit(id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *Graph) childEdges(m Menu) []string {
	var out []string
	for _, k := range m.Keys() {
		if o := m.Options[k]; o.Action == OptionSubmenu {
			out = append(out, o.SubmenuID)
		}
	}
	return out
}

func (g *Graph) parentEdges(m Menu) []string {
	if m.ParentMenuID == "" {
		return nil
	}
	return []string{m.ParentMenuID}
}

func (g *Graph) Menu(id string) (Menu, bool) {
	m, ok := g.menus[id]
	return m, ok
}
