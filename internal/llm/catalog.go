package llm

import "fmt"

// ModelInfo describes one entry of the fixed model catalog exposed to the UI.
type ModelInfo struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Slug    string `json:"slug"`
	Vision  bool   `json:"vision"`
	Default bool   `json:"default"`
}

var catalog = []ModelInfo{
	{Key: "deepseek_v3", Label: "DeepSeek v3", Slug: "deepseek/deepseek-chat-v3-0324:free", Default: true},
	{Key: "kimi", Label: "Kimi", Slug: "moonshotai/kimi-k2:free"},
	{Key: "gemini_flash", Label: "Gemini 2.0 Flash", Slug: "google/gemini-2.0-flash-exp:free", Vision: true},
	{Key: "qwq_32b", Label: "Qwen QWQ-32B", Slug: "qwen/qwq-32b:free"},
	{Key: "mistral_nemo", Label: "Mistral Nemo", Slug: "mistralai/mistral-nemo:free"},
}

// Models returns the catalog in display order.
func Models() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel resolves a catalog key. An empty key resolves to the default model.
func LookupModel(key string) (ModelInfo, error) {
	if key == "" {
		key = DefaultModelKey()
	}
	for _, m := range catalog {
		if m.Key == key {
			return m, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("unknown model %q", key)
}

func DefaultModelKey() string {
	for _, m := range catalog {
		if m.Default {
			return m.Key
		}
	}
	return catalog[0].Key
}
