package invoice

import (
	"sort"

	"github.com/rs/zerolog"
	"invoicing/internal/logger"
)

type clientPeriodKey struct {
	client string
	period Period
}

// Index is the read-only invoice reference consulted by the matching stages.
// It is safe for concurrent readers once built.
type Index struct {
	byProject      map[string]Record
	byClientPeriod map[clientPeriodKey]string
	byClient       map[string][]string
	duplicates     []string
	ambiguous      int
	log            zerolog.Logger
}

// NewIndex builds an index from records. Records whose project id is not
// canonicalizable or already indexed are skipped and reported by Duplicates.
func NewIndex(records []Record) *Index {
	idx := &Index{
		byProject:      make(map[string]Record, len(records)),
		byClientPeriod: make(map[clientPeriodKey]string, len(records)),
		byClient:       make(map[string][]string),
		log:            logger.WithComponent("invoice-index"),
	}

	for _, rec := range records {
		projectID, ok := CanonicalProjectID(rec.ProjectID)
		if !ok {
			idx.log.Warn().Str("project_id", rec.ProjectID).Msg("Skipping invoice with invalid project id")
			idx.duplicates = append(idx.duplicates, rec.ProjectID)
			continue
		}
		rec.ProjectID = projectID

		if _, exists := idx.byProject[projectID]; exists {
			idx.log.Warn().Str("project_id", projectID).Msg("Skipping duplicate invoice for project")
			idx.duplicates = append(idx.duplicates, projectID)
			continue
		}
		idx.byProject[projectID] = rec

		for _, key := range clientKeys(rec) {
			idx.addClientPeriod(clientPeriodKey{client: key, period: rec.Period}, projectID)
			idx.byClient[key] = appendUnique(idx.byClient[key], projectID)
		}
	}

	idx.log.Debug().
		Int("projects", len(idx.byProject)).
		Int("skipped", len(idx.duplicates)).
		Int("ambiguous_client_periods", idx.ambiguous).
		Msg("Invoice index built")

	return idx
}

func (idx *Index) addClientPeriod(key clientPeriodKey, projectID string) {
	existing, seen := idx.byClientPeriod[key]
	switch {
	case !seen:
		idx.byClientPeriod[key] = projectID
	case existing != "" && existing != projectID:
		// two projects bill the same client in the same month
		idx.byClientPeriod[key] = ""
		idx.ambiguous++
	}
}

// LookupByProject returns the record for projectID. Non-canonical spellings are accepted.
func (idx *Index) LookupByProject(projectID string) (Record, bool) {
	canonical, ok := CanonicalProjectID(projectID)
	if !ok {
		return Record{}, false
	}
	rec, ok := idx.byProject[canonical]
	return rec, ok
}

// LookupByClientPeriod returns the single record billed to client in period.
// client may be a client name or a client id. Ambiguous keys are absent.
func (idx *Index) LookupByClientPeriod(client string, period Period) (Record, bool) {
	projectID := idx.byClientPeriod[clientPeriodKey{client: ClientKey(client), period: period}]
	if projectID == "" {
		return Record{}, false
	}
	return idx.byProject[projectID], true
}

// ProjectsForClient returns every record billed to client, ordered by project id.
func (idx *Index) ProjectsForClient(client string) []Record {
	ids := idx.byClient[ClientKey(client)]
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, idx.byProject[id])
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProjectID < records[j].ProjectID })
	return records
}

// Records returns all indexed records ordered by project id.
func (idx *Index) Records() []Record {
	records := make([]Record, 0, len(idx.byProject))
	for _, rec := range idx.byProject {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProjectID < records[j].ProjectID })
	return records
}

// Len returns the number of indexed projects.
func (idx *Index) Len() int {
	return len(idx.byProject)
}

// Duplicates returns the project ids skipped while building the index.
func (idx *Index) Duplicates() []string {
	return append([]string(nil), idx.duplicates...)
}

func clientKeys(rec Record) []string {
	var keys []string
	if k := ClientKey(rec.ClientName); k != "" {
		keys = append(keys, k)
	}
	if k := ClientKey(rec.ClientID); k != "" && !contains(keys, k) {
		keys = append(keys, k)
	}
	return keys
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
