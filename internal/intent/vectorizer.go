package intent

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// tokenPattern keeps runs of two or more word characters, matching the
// tokenizer the classifier was trained with.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// VectorizerSpec is the exported state of a fitted bag-of-words vectorizer.
type VectorizerSpec struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf,omitempty"`
	NgramRange []int          `json:"ngram_range,omitempty"`
	Lowercase  *bool          `json:"lowercase,omitempty"`
	Norm       string         `json:"norm,omitempty"`
}

type vectorizer struct {
	vocab     map[string]int
	idf       []float64
	minN      int
	maxN      int
	lowercase bool
	l2        bool
	features  int
}

func newVectorizer(spec VectorizerSpec) (*vectorizer, error) {
	if len(spec.Vocabulary) == 0 {
		return nil, fmt.Errorf("intent: vectorizer vocabulary is empty")
	}
	v := &vectorizer{
		vocab:     spec.Vocabulary,
		idf:       spec.IDF,
		minN:      1,
		maxN:      1,
		lowercase: spec.Lowercase == nil || *spec.Lowercase,
	}
	for term, idx := range spec.Vocabulary {
		if idx < 0 {
			return nil, fmt.Errorf("intent: vectorizer term %q has negative index", term)
		}
		if idx+1 > v.features {
			v.features = idx + 1
		}
	}
	if len(spec.NgramRange) > 0 {
		if len(spec.NgramRange) != 2 || spec.NgramRange[0] < 1 || spec.NgramRange[1] < spec.NgramRange[0] {
			return nil, fmt.Errorf("intent: invalid ngram range %v", spec.NgramRange)
		}
		v.minN, v.maxN = spec.NgramRange[0], spec.NgramRange[1]
	}
	if v.idf != nil && len(v.idf) != v.features {
		return nil, fmt.Errorf("intent: idf has %d weights for %d features", len(v.idf), v.features)
	}
	switch spec.Norm {
	case "":
	case "l2":
		v.l2 = true
	default:
		return nil, fmt.Errorf("intent: unsupported vectorizer norm %q", spec.Norm)
	}
	return v, nil
}

type feature struct {
	idx    int
	weight float64
}

// transform returns the non-zero features of text ordered by index.
func (v *vectorizer) transform(text string) []feature {
	if v.lowercase {
		text = strings.ToLower(text)
	}
	tokens := tokenPattern.FindAllString(text, -1)

	counts := make(map[int]float64)
	for n := v.minN; n <= v.maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if idx, ok := v.vocab[strings.Join(tokens[i:i+n], " ")]; ok {
				counts[idx]++
			}
		}
	}

	x := make([]feature, 0, len(counts))
	for idx, c := range counts {
		w := c
		if v.idf != nil {
			w *= v.idf[idx]
		}
		x = append(x, feature{idx: idx, weight: w})
	}
	sort.Slice(x, func(i, j int) bool { return x[i].idx < x[j].idx })

	if v.l2 {
		var sum float64
		for _, f := range x {
			sum += f.weight * f.weight
		}
		if sum > 0 {
			norm := math.Sqrt(sum)
			for i := range x {
				x[i].weight /= norm
			}
		}
	}
	return x
}
