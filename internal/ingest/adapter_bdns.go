package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// bdnsPage mirrors one page of the BDNS convocatorias search.
type bdnsPage struct {
	Content       []bdnsItem `json:"content"`
	TotalElements int        `json:"totalElements"`
}

type bdnsItem struct {
	ID                 json.RawMessage `json:"id"`
	NumeroConvocatoria json.RawMessage `json:"numeroConvocatoria"`
	Descripcion        string          `json:"descripcion"`
	DescripcionLeng    string          `json:"descripcionLeng"`
	FechaRecepcion     string          `json:"fechaRecepcion"`
	FechaInicio        string          `json:"fechaInicioSolicitud"`
	FechaFin           string          `json:"fechaFinSolicitud"`
	Nivel1             string          `json:"nivel1"`
	Nivel2             string          `json:"nivel2"`
	Nivel3             string          `json:"nivel3"`
	Presupuesto        *float64        `json:"presupuestoTotal"`
	Finalidad          string          `json:"descripcionFinalidad"`
	Beneficiarios      []string        `json:"tiposBeneficiarios"`
	Sectores           []string        `json:"sectores"`
	Instrumento        string          `json:"instrumento"`
	URLBases           string          `json:"urlBasesReguladoras"`
	Abierto            *bool           `json:"abierto"`
}

// BDNSAdapter decodes the national grants database payload.
type BDNSAdapter struct{}

func (BDNSAdapter) Name() string { return AdapterBDNS }

func (BDNSAdapter) Decode(body []byte, _ SourceDescriptor) ([]RawGrant, error) {
	var page bdnsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode bdns: %w", err)
	}

	out := make([]RawGrant, 0, len(page.Content))
	for _, it := range page.Content {
		org := strings.TrimSpace(it.Nivel3)
		if org == "" {
			org = strings.TrimSpace(it.Nivel2)
		}
		opening := it.FechaInicio
		if opening == "" {
			opening = it.FechaRecepcion
		}
		raw := RawGrant{
			ID:            scalarText(it.ID),
			RegistryCode:  scalarText(it.NumeroConvocatoria),
			Title:         it.Descripcion,
			Description:   it.DescripcionLeng,
			Organization:  org,
			AmountValue:   it.Presupuesto,
			OpeningDate:   opening,
			ClosingDate:   it.FechaFin,
			Beneficiaries: it.Beneficiarios,
			Sectors:       it.Sectores,
			Region:        bdnsRegion(it.Nivel1, it.Nivel2),
			URL:           it.URLBases,
			FinancingType: it.Instrumento,
		}
		if it.Finalidad != "" {
			raw.Categories = []string{it.Finalidad}
		}
		if it.Abierto != nil {
			raw.Status = "closed"
			if *it.Abierto {
				raw.Status = "open"
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

// bdnsRegion maps the administrative level to a region: ESTADO is national,
// AUTONOMICA and LOCAL carry the community name in nivel2.
func bdnsRegion(nivel1, nivel2 string) string {
	switch strings.ToUpper(strings.TrimSpace(nivel1)) {
	case "ESTADO", "":
		return NationalRegion
	}
	return strings.TrimSpace(nivel2)
}

// scalarText renders a JSON string or number without quotes.
func scalarText(m json.RawMessage) string {
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(m, &n); err == nil {
		return n.String()
	}
	return ""
}
