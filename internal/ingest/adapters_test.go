package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterFactory(t *testing.T) {
	f := DefaultAdapterFactory()
	for _, name := range []string{AdapterGeneric, AdapterBDNS, AdapterCKAN, AdapterRSS, AdapterHTML} {
		a, err := f.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, a.Name())
	}
	_, err := f.Get("soap")
	assert.True(t, errors.Is(err, ErrUnknownAdapter))
}

func TestGenericAdapterEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"titulo":"Ayuda A"},{"titulo":"Ayuda B"}]`},
		{"results", `{"results":[{"title":"Ayuda A"},{"title":"Ayuda B"}]}`},
		{"convocatorias", `{"total":2,"convocatorias":[{"nombre":"Ayuda A"},{"nombre":"Ayuda B"}]}`},
		{"nested", `{"data":{"items":[{"Titulo":"Ayuda A"},{"Titulo":"Ayuda B"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenericAdapter{}.Decode([]byte(tt.body), SourceDescriptor{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "Ayuda A", got[0].Title)
			assert.Equal(t, "Ayuda B", got[1].Title)
		})
	}
}

func TestGenericAdapterFieldSynonyms(t *testing.T) {
	body := `{"items":[{
		"id": 42,
		"titulo": "Kit Digital",
		"descripcion": "<p>Ayudas</p>",
		"organismo": {"nombre": "Red.es"},
		"importe": 12000.5,
		"fecha_inicio": "01/02/2026",
		"fechaFin": "2026-06-30",
		"beneficiarios": ["Pymes", "Autónomos"],
		"sectores": "Comercio; Hostelería",
		"ambito": "Nacional",
		"enlace": "https://example.org/kit",
		"jovenes": "sí",
		"competitividad": "alta"
	}]}`

	got, err := GenericAdapter{}.Decode([]byte(body), SourceDescriptor{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]

	assert.Equal(t, "42", r.ID)
	assert.Equal(t, "Kit Digital", r.Title)
	assert.Equal(t, "<p>Ayudas</p>", r.Description)
	assert.Equal(t, "Red.es", r.Organization)
	require.NotNil(t, r.AmountValue)
	assert.Equal(t, 12000.5, *r.AmountValue)
	assert.Equal(t, "01/02/2026", r.OpeningDate)
	assert.Equal(t, "2026-06-30", r.ClosingDate)
	assert.Equal(t, []string{"Pymes", "Autónomos"}, r.Beneficiaries)
	assert.Equal(t, []string{"Comercio", "Hostelería"}, r.Sectors)
	assert.Equal(t, "Nacional", r.Region)
	assert.Equal(t, "https://example.org/kit", r.URL)
	assert.Equal(t, "sí", r.Flags[FlagYouth])
	assert.Equal(t, "alta", r.Competitiveness)
}

func TestGenericAdapterRejectsUnknownShape(t *testing.T) {
	_, err := GenericAdapter{}.Decode([]byte(`{"message":"ok"}`), SourceDescriptor{})
	assert.Error(t, err)
	_, err = GenericAdapter{}.Decode([]byte(`<html>`), SourceDescriptor{})
	assert.Error(t, err)
}

func TestBDNSAdapter(t *testing.T) {
	body := `{"content":[
		{"id": 801234, "numeroConvocatoria": "801234", "descripcion": "Subvenciones para eficiencia energética",
		 "nivel1": "ESTADO", "nivel2": "MINISTERIO PARA LA TRANSICIÓN ECOLÓGICA", "nivel3": "IDAE",
		 "fechaRecepcion": "2026-02-10", "presupuestoTotal": 3000000, "abierto": true},
		{"id": "801300", "descripcion": "Ayudas al comercio", "nivel1": "AUTONOMICA", "nivel2": "Madrid"}
	],"totalElements":2}`

	got, err := BDNSAdapter{}.Decode([]byte(body), SourceDescriptor{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "801234", got[0].ID)
	assert.Equal(t, "801234", got[0].RegistryCode)
	assert.Equal(t, "IDAE", got[0].Organization)
	assert.Equal(t, NationalRegion, got[0].Region)
	assert.Equal(t, "2026-02-10", got[0].OpeningDate)
	require.NotNil(t, got[0].AmountValue)
	assert.Equal(t, 3000000.0, *got[0].AmountValue)
	assert.Equal(t, "open", got[0].Status)

	assert.Equal(t, "801300", got[1].ID)
	assert.Equal(t, "Madrid", got[1].Organization)
	assert.Equal(t, "Madrid", got[1].Region)
	assert.Nil(t, got[1].AmountValue)
}

func TestCKANAdapter(t *testing.T) {
	body := `{"success":true,"result":{"count":1,"results":[{
		"id": "c0ffee",
		"title": "Ayudas a la digitalización 2026",
		"notes": "Convocatoria anual",
		"organization": {"title": "Ayuntamiento de Zaragoza", "name": "l01502973"},
		"tags": [{"name": "digitalización"}, {"name": "pymes"}],
		"extras": [{"key": "fecha_fin", "value": "2026-05-31"}, {"key": "importe", "value": "250.000 €"}],
		"resources": [{"url": "https://datos.gob.es/r/1"}]
	}]}}`

	got, err := CKANAdapter{}.Decode([]byte(body), SourceDescriptor{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]

	assert.Equal(t, "c0ffee", r.ID)
	assert.Equal(t, "Ayudas a la digitalización 2026", r.Title)
	assert.Equal(t, "Convocatoria anual", r.Description)
	assert.Equal(t, "Ayuntamiento de Zaragoza", r.Organization)
	assert.Equal(t, "2026-05-31", r.ClosingDate)
	assert.Equal(t, "250.000 €", r.Amount)
	assert.Equal(t, []string{"digitalización", "pymes"}, r.Categories)
	assert.Equal(t, "https://datos.gob.es/r/1", r.URL)

	_, err = CKANAdapter{}.Decode([]byte(`{"success":false}`), SourceDescriptor{})
	assert.Error(t, err)
}

func TestRSSAdapter(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>BOE - Ayudas</title>
<item>
  <guid>BOE-B-2026-1001</guid>
  <title>Extracto de la convocatoria de ayudas para jóvenes agricultores</title>
  <link>https://www.boe.es/diario_boe/txt.php?id=BOE-B-2026-1001</link>
  <description>Plazo de presentación: hasta el 30/04/2026. Cuantía 20.000 euros.</description>
  <category>Agricultura</category>
  <pubDate>Mon, 02 Mar 2026 08:00:00 +0100</pubDate>
</item>
</channel></rss>`

	got, err := NewRSSAdapter().Decode([]byte(body), SourceDescriptor{DateLocales: []string{"es"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]

	assert.Equal(t, "BOE-B-2026-1001", r.ID)
	assert.Equal(t, "BOE - Ayudas", r.Organization)
	assert.Equal(t, "2026-03-02T07:00:00Z", r.OpeningDate)
	assert.Contains(t, r.ClosingDate, "30/04/2026")
	assert.Equal(t, []string{"Agricultura"}, r.Categories)

	_, err = NewRSSAdapter().Decode([]byte("not a feed"), SourceDescriptor{})
	assert.Error(t, err)
}

func TestHTMLAdapter(t *testing.T) {
	page := `<html><body><ul>
	<li class="tramit"><a href="/ajuts/1?utm_source=x"><h3>Ajuts a la innovació</h3></a>
	  <span class="organisme">ACCIÓ</span><span class="import">Fins a 50.000 €</span>
	  <span class="data-fi">15/05/2026</span><p class="descripcio">Per a <b>pimes</b></p></li>
	<li class="tramit"><a href="/ajuts/2"></a></li>
	</ul></body></html>`

	src := SourceDescriptor{
		BaseURL: "https://web.gencat.cat/ca/tramits/ajuts",
		Selectors: SelectorConfig{
			Container: "li.tramit", Link: "a", Title: "h3", Organization: ".organisme",
			Amount: ".import", ClosingDate: ".data-fi", Content: "p.descripcio",
		},
	}
	got, err := HTMLAdapter{}.Decode([]byte(page), src)
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]

	assert.Equal(t, "Ajuts a la innovació", r.Title)
	assert.Equal(t, "ACCIÓ", r.Organization)
	assert.Equal(t, "Fins a 50.000 €", r.Amount)
	assert.Equal(t, "15/05/2026", r.ClosingDate)
	assert.Equal(t, "Per a <b>pimes</b>", r.Description)
	assert.Equal(t, "https://web.gencat.cat/ajuts/1", r.ID)

	_, err = HTMLAdapter{}.Decode([]byte(page), SourceDescriptor{})
	assert.Error(t, err)
}
