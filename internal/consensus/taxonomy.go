package consensus

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/quorum/internal/jsonextract"
	"github.com/jordanhubbard/quorum/internal/providers"
)

const taxonomyPrompt = `Classify the question below. Respond with only a JSON object:
{"intent": one of ["factual","technical","creative","judgment","strategic"],
 "category": a short topic noun,
 "genus": a finer-grained subtopic noun}

Question:
%s`

// classifyTaxonomy asks the configured model (or the cheapest one) to label
// the question. The projection rejects non-string fields rather than
// coercing them.
func (e *Engine) classifyTaxonomy(ctx context.Context, sess *Session) (*Taxonomy, error) {
	ref := e.cfg.TaxonomyModelRef
	if ref == "" {
		m, ok := CheapestModel(e.mgr.ListAllModels())
		if !ok {
			return nil, providers.NewError(providers.KindInsufficientModels, "no model available for taxonomy")
		}
		ref = m.Ref()
	}

	messages := []providers.Message{
		{Role: providers.RoleUser, Content: fmt.Sprintf(taxonomyPrompt, sess.Question)},
	}
	resp, err := e.mgr.Send(ctx, ref, messages, providers.SendOptions{
		MaxTokens:      256,
		ResponseFormat: providers.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	obj, err := jsonextract.Object(resp.Content)
	if err != nil {
		return nil, err
	}
	tax := &Taxonomy{}
	for key, dst := range map[string]*string{
		"intent":   &tax.Intent,
		"category": &tax.Category,
		"genus":    &tax.Genus,
	} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("taxonomy field %q is not a string", key)
		}
		*dst = s
	}
	if tax.Intent == "" {
		return nil, fmt.Errorf("taxonomy response missing intent")
	}
	return tax, nil
}
