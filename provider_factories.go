package meliconnect

import (
	"fmt"

	"github.com/goliatone/go-meli-connect/providers/mercadolibre"
	"github.com/goliatone/go-meli-connect/security"
)

func MercadoLibreClient(cfg mercadolibre.Config) *mercadolibre.Client {
	return mercadolibre.NewClient(cfg)
}

// NewMercadoLibreService builds a service backed by the MercadoLibre client
// and an AES-GCM cipher keyed from cfg.Security. Options passed by the
// caller are applied last and may replace either dependency.
func NewMercadoLibreService(cfg Config, httpClient mercadolibre.HTTPDoer, opts ...Option) (*Service, error) {
	cipher, err := security.NewAESCipherFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("meliconnect: build cipher: %w", err)
	}
	client := mercadolibre.NewClientFromConfig(cfg, httpClient)

	all := make([]Option, 0, len(opts)+2)
	all = append(all, WithCipher(cipher), WithOAuthClient(client))
	all = append(all, opts...)
	return NewService(cfg, all...)
}
