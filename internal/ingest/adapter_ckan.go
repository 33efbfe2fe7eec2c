package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ckanResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int              `json:"count"`
		Results []map[string]any `json:"results"`
	} `json:"result"`
}

// CKANAdapter decodes CKAN package_search responses (datos.gob.es).
// Dataset extras and tags are folded into the generic field probe.
type CKANAdapter struct{}

func (CKANAdapter) Name() string { return AdapterCKAN }

func (CKANAdapter) Decode(body []byte, _ SourceDescriptor) ([]RawGrant, error) {
	var resp ckanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ckan: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("decode ckan: success=false")
	}

	out := make([]RawGrant, 0, len(resp.Result.Results))
	for _, pkg := range resp.Result.Results {
		item := make(map[string]any, len(pkg))
		for k, v := range pkg {
			switch k {
			case "extras", "tags", "organization", "resources":
			default:
				item[k] = v
			}
		}
		// extras: [{"key": "fecha_fin", "value": "..."}]
		if extras, ok := pkg["extras"].([]any); ok {
			for _, e := range extras {
				if kv, ok := e.(map[string]any); ok {
					if key, _ := kv["key"].(string); key != "" {
						item[key] = kv["value"]
					}
				}
			}
		}

		raw := rawFromMap(item)
		if org, ok := pkg["organization"].(map[string]any); ok && raw.Organization == "" {
			if title, _ := org["title"].(string); title != "" {
				raw.Organization = title
			} else {
				raw.Organization = stringify(org)
			}
		}
		if tags, ok := pkg["tags"].([]any); ok {
			raw.Categories = mergeUniqueFold(raw.Categories, stringList(tags))
		}
		if raw.URL == "" {
			raw.URL = firstResourceURL(pkg["resources"])
		}
		if raw.Title == "" {
			if t, ok := pkg["title"].(string); ok {
				raw.Title = strings.TrimSpace(t)
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

func firstResourceURL(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, r := range list {
		if m, ok := r.(map[string]any); ok {
			if u, _ := m["url"].(string); u != "" {
				return u
			}
		}
	}
	return ""
}
