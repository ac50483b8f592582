package provider

import (
	"fmt"

	"go.uber.org/zap"

	"mindcare/internal/config"
)

// Registry holds the process-wide set of payment providers. It is built
// once at startup from configuration and read-only afterwards. Providers
// are constructed through an explicit name->constructor table; there is no
// reflection-based lookup.
type Registry struct {
	names     []string
	providers map[string]PaymentProvider
}

// priority decides which enabled provider is the default.
var priority = []string{NameStripe, NamePayPal}

func NewRegistry(cfg *config.Config, log *zap.Logger) *Registry {
	constructors := []struct {
		name  string
		build func() PaymentProvider
	}{
		{NameStripe, func() PaymentProvider { return NewStripe(cfg.Stripe, cfg.Currencies, log) }},
		{NamePayPal, func() PaymentProvider { return NewPayPal(cfg.PayPal, cfg.Currencies, log) }},
	}

	r := &Registry{providers: make(map[string]PaymentProvider, len(constructors))}
	for _, c := range constructors {
		p := c.build()
		r.names = append(r.names, c.name)
		r.providers[c.name] = p

		if p.Enabled() {
			log.Info("payment provider enabled", zap.String("provider", c.name))
		} else {
			log.Warn("payment provider disabled or misconfigured", zap.String("provider", c.name))
		}
	}

	return r
}

// Get returns a provider ready for use. Unknown names and providers whose
// credentials failed validation both yield ErrNotConfigured; other
// providers are unaffected.
func (r *Registry) Get(name string) (PaymentProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (available: %v)", ErrNotConfigured, name, r.names)
	}
	if !p.Enabled() {
		return nil, fmt.Errorf("%w: provider %q is disabled", ErrNotConfigured, name)
	}
	return p, nil
}

// Names returns all registered provider names in registration order,
// enabled or not.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Default returns the first enabled provider in priority order.
func (r *Registry) Default() (PaymentProvider, error) {
	for _, name := range priority {
		if p, ok := r.providers[name]; ok && p.Enabled() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no payment providers are enabled", ErrNotConfigured)
}

// Catalog returns the capability view of every registered provider.
func (r *Registry) Catalog() []Info {
	infos := make([]Info, 0, len(r.names))
	for _, name := range r.names {
		infos = append(infos, r.providers[name].Info())
	}
	return infos
}
