package sampler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/flowsample/envconfig"
)

// SampleMany fuehrt unabhaengige Laeufe parallel aus, hoechstens
// FLOWSAMPLE_MAX_PARALLEL gleichzeitig. Der erste Fehler bricht alle ab.
// Die Ergebnisse haben die Reihenfolge von reqs.
func (s *Sampler) SampleMany(ctx context.Context, reqs []Request) ([]*Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, int(envconfig.MaxParallel())))

	results := make([]*Result, len(reqs))
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Sample(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Seeds gibt n Auftraege mit aufeinanderfolgenden Seeds ab dem konfigurierten Seed zurueck.
func (s *Sampler) Seeds(n int, payload any) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = s.Request(payload)
		reqs[i].Seed += uint64(i)
	}
	return reqs
}
