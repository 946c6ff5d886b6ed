package eval

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/vintagevision/vintagevision/internal/model"
)

//go:embed groundtruth.yaml
var groundTruthYAML []byte

type corpusFile struct {
	Items []model.GroundTruthItem `yaml:"items"`
}

// Corpus returns the embedded ground-truth items in file order.
func Corpus() ([]model.GroundTruthItem, error) {
	return ParseCorpus(groundTruthYAML)
}

// ParseCorpus decodes and validates a ground-truth YAML document.
func ParseCorpus(data []byte) ([]model.GroundTruthItem, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "eval: parse ground truth")
	}

	seen := make(map[string]bool, len(f.Items))
	for i := range f.Items {
		it := &f.Items[i]
		it.ID = strings.TrimSpace(it.ID)
		switch {
		case it.ID == "":
			return nil, eris.Errorf("eval: item %d has no id", i)
		case seen[it.ID]:
			return nil, eris.Errorf("eval: duplicate item id %s", it.ID)
		case strings.TrimSpace(it.ImageRef) == "":
			return nil, eris.Errorf("eval: item %s has no image", it.ID)
		case strings.TrimSpace(it.Expected.Name) == "":
			return nil, eris.Errorf("eval: item %s has no expected name", it.ID)
		case it.Expected.Domain == "":
			return nil, eris.Errorf("eval: item %s has no domain", it.ID)
		}
		if it.Difficulty == "" {
			it.Difficulty = model.DifficultyMedium
		}
		seen[it.ID] = true
	}
	return f.Items, nil
}

// FindItem returns the item with id.
func FindItem(items []model.GroundTruthItem, id string) (model.GroundTruthItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return model.GroundTruthItem{}, false
}

// SmokeSample picks n items spread across domains. Domains are visited in
// name order and items within a domain in id order, one per domain per
// pass, so the same corpus always yields the same sample.
func SmokeSample(items []model.GroundTruthItem, n int) []model.GroundTruthItem {
	if n <= 0 {
		return nil
	}
	if n >= len(items) {
		return append([]model.GroundTruthItem(nil), items...)
	}

	byDomain := make(map[string][]model.GroundTruthItem)
	for _, it := range items {
		byDomain[it.Expected.Domain] = append(byDomain[it.Expected.Domain], it)
	}
	domains := make([]string, 0, len(byDomain))
	for d, group := range byDomain {
		domains = append(domains, d)
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	}
	sort.Strings(domains)

	out := make([]model.GroundTruthItem, 0, n)
	for pass := 0; len(out) < n; pass++ {
		for _, d := range domains {
			if group := byDomain[d]; pass < len(group) {
				out = append(out, group[pass])
				if len(out) == n {
					break
				}
			}
		}
	}
	return out
}
