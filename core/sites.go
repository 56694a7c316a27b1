package core

import (
	"sort"
	"strings"
)

type SiteID string

const (
	SiteArgentina  SiteID = "MLA"
	SiteBrazil     SiteID = "MLB"
	SiteColombia   SiteID = "MCO"
	SiteCostaRica  SiteID = "MCR"
	SiteEcuador    SiteID = "MEC"
	SiteChile      SiteID = "MLC"
	SiteMexico     SiteID = "MLM"
	SiteUruguay    SiteID = "MLU"
	SiteVenezuela  SiteID = "MLV"
	SitePanama     SiteID = "MPA"
	SitePeru       SiteID = "MPE"
	SitePortugal   SiteID = "MPT"
	SiteDominicana SiteID = "MRD"
)

// Site is one marketplace country. Domain is the suffix used by the
// authorization host (auth.mercadolibre.<domain>).
type Site struct {
	ID       SiteID
	Country  string
	Domain   string
	Currency string
}

var siteCatalog = map[SiteID]Site{
	SiteArgentina:  {ID: SiteArgentina, Country: "Argentina", Domain: "com.ar", Currency: "ARS"},
	SiteBrazil:     {ID: SiteBrazil, Country: "Brasil", Domain: "com.br", Currency: "BRL"},
	SiteColombia:   {ID: SiteColombia, Country: "Colombia", Domain: "com.co", Currency: "COP"},
	SiteCostaRica:  {ID: SiteCostaRica, Country: "Costa Rica", Domain: "co.cr", Currency: "CRC"},
	SiteEcuador:    {ID: SiteEcuador, Country: "Ecuador", Domain: "com.ec", Currency: "USD"},
	SiteChile:      {ID: SiteChile, Country: "Chile", Domain: "cl", Currency: "CLP"},
	SiteMexico:     {ID: SiteMexico, Country: "México", Domain: "com.mx", Currency: "MXN"},
	SiteUruguay:    {ID: SiteUruguay, Country: "Uruguay", Domain: "com.uy", Currency: "UYU"},
	SiteVenezuela:  {ID: SiteVenezuela, Country: "Venezuela", Domain: "com.ve", Currency: "VES"},
	SitePanama:     {ID: SitePanama, Country: "Panamá", Domain: "com.pa", Currency: "PAB"},
	SitePeru:       {ID: SitePeru, Country: "Perú", Domain: "com.pe", Currency: "PEN"},
	SitePortugal:   {ID: SitePortugal, Country: "Portugal", Domain: "pt", Currency: "EUR"},
	SiteDominicana: {ID: SiteDominicana, Country: "Dominicana", Domain: "com.do", Currency: "DOP"},
}

func NormalizeSiteID(site string) SiteID {
	return SiteID(strings.ToUpper(strings.TrimSpace(site)))
}

func LookupSite(site string) (Site, bool) {
	entry, ok := siteCatalog[NormalizeSiteID(site)]
	return entry, ok
}

// SupportedSites returns the catalog ordered by site id.
func SupportedSites() []Site {
	sites := make([]Site, 0, len(siteCatalog))
	for _, site := range siteCatalog {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool {
		return sites[i].ID < sites[j].ID
	})
	return sites
}
