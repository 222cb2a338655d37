package portal

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
)

// taxonFetchLimit bounds concurrent taxon lookups.
const taxonFetchLimit = 4

// taxonFetchTimeout bounds one shared taxon lookup.
const taxonFetchTimeout = 30 * time.Second

func observationsPath(page, pageSize int) string {
	return "/api/observation/?" + api.Query("page", strconv.Itoa(page), "page_size", strconv.Itoa(pageSize))
}

// Observations returns one page of observations with taxa resolved. page
// starts at 1; a pageSize of 0 uses the configured default.
func (s *Service) Observations(ctx context.Context, page, pageSize int) (ObservationPage, error) {
	if err := s.checkEnabled(); err != nil {
		return ObservationPage{}, err
	}
	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	return querycache.Fetch(ctx, s.cache, ObservationsKey(page, pageSize), func(ctx context.Context) (ObservationPage, error) {
		return s.fetchObservations(ctx, page, pageSize)
	}, s.queryOptions())
}

func (s *Service) fetchObservations(ctx context.Context, page, pageSize int) (ObservationPage, error) {
	var p ObservationPage
	if err := s.client.Get(ctx, observationsPath(page, pageSize), &p); err != nil {
		return ObservationPage{}, err
	}
	if err := s.ResolveTaxa(ctx, p.Results); err != nil {
		s.log.Warn("some taxa could not be resolved",
			logger.Int("page", page),
			logger.Error(err))
	}
	return p, nil
}

// DeleteObservation deletes an observation.
func (s *Service) DeleteObservation(ctx context.Context, id int64) error {
	if err := s.client.Delete(ctx, "/api/observation/"+strconv.FormatInt(id, 10)+"/"); err != nil {
		return err
	}
	s.log.Info("observation deleted", logger.Int64("observation_id", id))
	s.cache.Settle(ctx, querycache.MutationDeleteObservation)
	return nil
}

// Taxon returns a taxon, from the memo when possible.
func (s *Service) Taxon(ctx context.Context, id int64) (Taxon, error) {
	memoKey := strconv.FormatInt(id, 10)
	if v, ok := s.taxa.Get(memoKey); ok {
		if t, ok := v.(Taxon); ok {
			return t, nil
		}
	}
	// Shared by concurrent callers, so it runs detached from ctx.
	ch := s.taxonGroup.DoChan(memoKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taxonFetchTimeout)
		defer cancel()
		var t Taxon
		if err := s.client.Get(fctx, "/api/taxon/"+memoKey+"/", &t); err != nil {
			return Taxon{}, err
		}
		s.taxa.SetDefault(memoKey, t)
		return t, nil
	})
	select {
	case <-ctx.Done():
		return Taxon{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Taxon{}, res.Err
		}
		return res.Val.(Taxon), nil
	}
}

// ResolveTaxa fills in taxa sent as bare ids. Nested taxa seed the memo.
// Observations whose taxon cannot be fetched are left unresolved and the
// errors are returned joined.
func (s *Service) ResolveTaxa(ctx context.Context, obs []Observation) error {
	for _, o := range obs {
		if o.Taxon.Resolved && o.Taxon.ID != 0 {
			s.taxa.SetDefault(strconv.FormatInt(o.Taxon.ID, 10), o.Taxon.Taxon)
		}
	}

	errs := make([]error, len(obs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(taxonFetchLimit)
	for i := range obs {
		if obs[i].Taxon.Resolved || obs[i].Taxon.ID == 0 {
			continue
		}
		g.Go(func() error {
			t, err := s.Taxon(gctx, obs[i].Taxon.ID)
			if err != nil {
				errs[i] = err
				return nil
			}
			obs[i].Taxon = TaxonRef{Taxon: t, Resolved: true}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
