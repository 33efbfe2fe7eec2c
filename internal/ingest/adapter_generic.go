package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// fieldSynonyms lists the keys probed for each RawGrant field. Keys are
// compared after lowercasing and dropping '_', '-' and spaces, so
// "fecha_inicio", "fechaInicio" and "FechaInicio" all match "fechainicio".
var fieldSynonyms = map[string][]string{
	"id":              {"id", "identificador", "codigo", "code", "uuid"},
	"registryCode":    {"codigobdns", "bdns", "registrycode", "numeroconvocatoria", "numconvocatoria", "referencia"},
	"title":           {"title", "titulo", "nombre", "name", "denominacion", "descripcioncorta"},
	"description":     {"description", "descripcion", "resumen", "summary", "objeto", "finalidaddescripcion", "notes"},
	"organization":    {"organization", "organismo", "organo", "organoconvocante", "entidad", "convocante", "departamento", "publisher", "nivel2"},
	"amount":          {"amount", "importe", "importetotal", "cuantia", "cuantiamaxima", "presupuesto", "presupuestototal", "dotacion", "budget"},
	"currency":        {"currency", "moneda", "divisa"},
	"openingDate":     {"openingdate", "fechainicio", "fechaapertura", "fechainiciosolicitud", "startdate", "inicio", "fechapublicacion"},
	"closingDate":     {"closingdate", "fechafin", "fechacierre", "fechafinsolicitud", "fechalimite", "plazo", "deadline", "enddate"},
	"beneficiaries":   {"beneficiaries", "beneficiarios", "tipobeneficiario", "tiposbeneficiarios", "destinatarios"},
	"categories":      {"categories", "categorias", "categoria", "tags", "finalidad", "tematica", "theme"},
	"sectors":         {"sectors", "sectores", "sector", "actividad"},
	"region":          {"region", "ambito", "ambitogeografico", "comunidad", "ccaa", "nivel1"},
	"url":             {"url", "link", "enlace", "href", "urlconvocatoria", "sedeelectronica"},
	"status":          {"status", "estado", "abierto"},
	"financingType":   {"financingtype", "tipofinanciacion", "instrumento", "tipoayuda"},
	"aidIntensity":    {"aidintensity", "intensidad", "intensidadayuda", "porcentajeayuda"},
	"complexity":      {"complexity", "complejidad"},
	"probability":     {"probability", "probabilidad"},
	"competitiveness": {"competitiveness", "competitividad", "concurrencia"},
}

var flagFieldSynonyms = map[string][]string{
	FlagEnvironmental:   {"environmental", "medioambiental", "sostenible", "verde"},
	FlagGenderEquality:  {"genderequality", "igualdadgenero", "igualdad"},
	FlagDigital:         {"digital", "digitaltransformation", "digitalizacion", "transformaciondigital"},
	FlagCircularEconomy: {"circulareconomy", "economiacircular"},
	FlagYouth:           {"youth", "jovenes", "juventud"},
	FlagRural:           {"rural", "entornorural"},
}

// collectionKeys are the envelope keys that may hold the item list.
var collectionKeys = []string{"results", "items", "data", "convocatorias", "content", "records"}

// GenericAdapter decodes loosely structured JSON: either a top-level array
// or an object whose results/items/data/convocatorias key holds the array,
// possibly one level further down ({"data":{"items":[...]}}).
type GenericAdapter struct{}

func (GenericAdapter) Name() string { return AdapterGeneric }

func (GenericAdapter) Decode(body []byte, _ SourceDescriptor) ([]RawGrant, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	items, ok := findItems(doc, 1)
	if !ok {
		return nil, fmt.Errorf("decode: no item list found in payload")
	}

	out := make([]RawGrant, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, rawFromMap(m))
	}
	return out, nil
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

func findItems(doc any, depth int) ([]any, bool) {
	switch v := doc.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, k := range collectionKeys {
			child, ok := lookupFold(v, k)
			if !ok {
				continue
			}
			if arr, ok := child.([]any); ok {
				return arr, true
			}
			if depth > 0 {
				if arr, ok := findItems(child, depth-1); ok {
					return arr, true
				}
			}
		}
	}
	return nil, false
}

func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func fieldKey(k string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(k))
}

// rawFromMap probes one decoded item against fieldSynonyms.
func rawFromMap(m map[string]any) RawGrant {
	index := make(map[string]any, len(m))
	for k, v := range m {
		fk := fieldKey(k)
		if _, dup := index[fk]; !dup {
			index[fk] = v
		}
	}
	pick := func(field string) (any, bool) {
		for _, syn := range fieldSynonyms[field] {
			if v, ok := index[syn]; ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}
	str := func(field string) string {
		v, _ := pick(field)
		return stringify(v)
	}
	list := func(field string) []string {
		v, _ := pick(field)
		return stringList(v)
	}

	raw := RawGrant{
		ID:              str("id"),
		RegistryCode:    str("registryCode"),
		Title:           str("title"),
		Description:     str("description"),
		Organization:    str("organization"),
		Currency:        str("currency"),
		OpeningDate:     str("openingDate"),
		ClosingDate:     str("closingDate"),
		Beneficiaries:   list("beneficiaries"),
		Categories:      list("categories"),
		Sectors:         list("sectors"),
		Region:          str("region"),
		URL:             str("url"),
		Status:          str("status"),
		FinancingType:   str("financingType"),
		AidIntensity:    str("aidIntensity"),
		Complexity:      str("complexity"),
		Probability:     str("probability"),
		Competitiveness: str("competitiveness"),
	}

	if v, ok := pick("amount"); ok {
		switch n := v.(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				raw.AmountValue = &f
			}
		case float64:
			raw.AmountValue = &n
		default:
			raw.Amount = stringify(v)
		}
	}

	for flag, syns := range flagFieldSynonyms {
		for _, syn := range syns {
			if v, ok := index[syn]; ok && v != nil {
				if raw.Flags == nil {
					raw.Flags = make(map[string]string)
				}
				raw.Flags[flag] = stringify(v)
				break
			}
		}
	}
	return raw
}

// nameKeys are probed when a field holds an object instead of a scalar,
// e.g. "organismo": {"nombre": "..."}.
var nameKeys = []string{"nombre", "name", "descripcion", "title", "titulo", "display_name", "value", "label"}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		for _, k := range nameKeys {
			if inner, ok := lookupFold(t, k); ok {
				if s := stringify(inner); s != "" {
					return s
				}
			}
		}
		return ""
	case []any:
		return strings.Join(stringList(t), ", ")
	}
	return fmt.Sprint(v)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := strings.TrimSpace(stringify(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.Contains(t, "\n") {
			return splitAndCleanList(t)
		}
		// "Pymes; Autónomos" or "Pymes, Autónomos"
		sep := ","
		if strings.Contains(t, ";") {
			sep = ";"
		}
		var out []string
		for _, p := range strings.Split(t, sep) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	if s := stringify(v); s != "" {
		return []string{s}
	}
	return nil
}
