package cart

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/currency"
)

// AddPolicy decides what AddToCart does with a product already in the cart.
type AddPolicy int

const (
	// AddPolicyDuplicate bumps the first matching line and also appends a fresh line with quantity 1.
	AddPolicyDuplicate AddPolicy = iota
	// AddPolicyMerge only bumps the matching line.
	AddPolicyMerge
)

func (p AddPolicy) String() string {
	switch p {
	case AddPolicyDuplicate:
		return "duplicate"
	case AddPolicyMerge:
		return "merge"
	default:
		return fmt.Sprintf("AddPolicy(%d)", int(p))
	}
}

func ParseAddPolicy(s string) (AddPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "duplicate", "":
		return AddPolicyDuplicate, nil
	case "merge":
		return AddPolicyMerge, nil
	default:
		return 0, fmt.Errorf("add policy[%s] is not valid", s)
	}
}

// LoadPolicy decides what happens when the saved cart arrives after the cart has already changed.
type LoadPolicy int

const (
	// LoadPolicyReplace lets the saved cart replace whatever is in memory.
	LoadPolicyReplace LoadPolicy = iota
	// LoadPolicyKeepLocal discards the saved cart once the cart has changed.
	LoadPolicyKeepLocal
)

func (p LoadPolicy) String() string {
	switch p {
	case LoadPolicyReplace:
		return "replace"
	case LoadPolicyKeepLocal:
		return "keep-local"
	default:
		return fmt.Sprintf("LoadPolicy(%d)", int(p))
	}
}

func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace", "":
		return LoadPolicyReplace, nil
	case "keep-local":
		return LoadPolicyKeepLocal, nil
	default:
		return 0, fmt.Errorf("load policy[%s] is not valid", s)
	}
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAddPolicy(policy AddPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

func WithLoadPolicy(policy LoadPolicy) Option {
	return func(s *Store) {
		s.loadPolicy = policy
	}
}

// WithCurrency sets the currency Total reports in.
func WithCurrency(unit currency.Unit) Option {
	return func(s *Store) {
		s.unit = unit
	}
}

// WithErrorHandler is called for every failed load or write, after it is logged.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Store) {
		s.onError = fn
	}
}
