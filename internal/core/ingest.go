package core

// ingest.go normalizes loosely structured attendance rows into canonical
// entity and attendance records.
//
// The pipeline runs fully in memory and then commits in one store call:
//  1. Normalize header keys and extract the natural key (entity id + date)
//  2. Batch-resolve referenced entities with a single lookup
//  3. Auto-provision missing entities and schedule changed ones for update
//  4. Collapse duplicate (entity, date) keys, last write wins
//  5. CommitIngest writes entities, then attendance in bounded batches

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// Header aliases, compared after normalizeHeader.
var (
	entityIDAliases    = []string{"employeeid", "empid", "empno", "employeeno", "employeecode", "entityid", "id"}
	dateAliases        = []string{"date", "attendancedate", "day", "workdate"}
	nameAliases        = []string{"name", "employeename", "fullname", "empname"}
	siteAliases        = []string{"site", "location", "project", "sitename"}
	statusAliases      = []string{"status", "attendance", "attendancestatus"}
	designationAliases = []string{"designation", "role", "position", "jobtitle"}
)

// IngestRowError describes a skipped input row. Line is zero-based.
type IngestRowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	MergedCount     int              `json:"mergedCount"`
	ErrorCount      int              `json:"errorCount"`
	EntitiesCreated int              `json:"entitiesCreated"`
	EntitiesUpdated int              `json:"entitiesUpdated"`
	Errors          []IngestRowError `json:"errors,omitempty"`
}

// ingestRow is one normalized raw row.
type ingestRow struct {
	record AttendanceRecord
	name   string
	desig  string
}

// IngestPlan is the fully computed outcome of an ingest, ready to commit.
type IngestPlan struct {
	Entities []Entity
	Records  []AttendanceRecord
	Result   IngestResult
}

// normalizeHeader lower-cases a header and keeps letters and digits only.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeRawRow maps a raw row's keys to their normalized form. When two
// raw keys normalize to the same name the first non-empty value wins.
func normalizeRawRow(raw map[string]string) map[string]string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(raw))
	for _, k := range keys {
		nk := normalizeHeader(k)
		if nk == "" {
			continue
		}
		v := CleanCell(raw[k])
		if existing, ok := out[nk]; ok && existing != "" {
			continue
		}
		out[nk] = v
	}
	return out
}

func firstAlias(row map[string]string, aliases []string) (string, string) {
	for _, a := range aliases {
		if v, ok := row[a]; ok && v != "" {
			return a, v
		}
	}
	return "", ""
}

// normalizeEntityID canonicalizes identifiers like " emp-001 " to "EMP-001".
func normalizeEntityID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// planIngest computes the entities and records an ingest would write.
// existing must hold every entity already known for the referenced ids.
func planIngest(rows []normalizedIngest, existing map[string]Entity, tax Taxonomy, now time.Time) IngestPlan {
	var plan IngestPlan

	// Entities: the last row for each id supplies descriptive fields.
	latest := make(map[string]ingestRow)
	var order []string
	for _, r := range rows {
		if _, ok := latest[r.row.record.EntityID]; !ok {
			order = append(order, r.row.record.EntityID)
		}
		latest[r.row.record.EntityID] = mergeDescriptive(latest[r.row.record.EntityID], r.row)
	}

	for _, id := range order {
		r := latest[id]
		cur, found := existing[id]
		if !found {
			plan.Entities = append(plan.Entities, Entity{
				ID:           id,
				Name:         r.name,
				Site:         r.record.Site,
				SiteCategory: tax.SiteCategoryFor(r.record.Site),
				Designation:  r.desig,
				UpdatedAt:    now,
			})
			plan.Result.EntitiesCreated++
			continue
		}
		if updated, changed := applyDescriptive(cur, r, tax); changed {
			updated.UpdatedAt = now
			plan.Entities = append(plan.Entities, updated)
			plan.Result.EntitiesUpdated++
		}
	}

	// Attendance: last write wins, first-seen order kept.
	byKey := make(map[string]int)
	for _, r := range rows {
		rec := r.row.record
		if pos, ok := byKey[rec.Key()]; ok {
			plan.Records[pos] = rec
			continue
		}
		byKey[rec.Key()] = len(plan.Records)
		plan.Records = append(plan.Records, rec)
	}
	plan.Result.MergedCount = len(plan.Records)

	return plan
}

// mergeDescriptive overlays non-empty fields of next onto prev.
func mergeDescriptive(prev, next ingestRow) ingestRow {
	out := next
	if out.name == "" {
		out.name = prev.name
	}
	if out.desig == "" {
		out.desig = prev.desig
	}
	if out.record.Site == "" {
		out.record.Site = prev.record.Site
	}
	return out
}

// applyDescriptive returns cur updated with materially different fields.
// Empty incoming fields never blank out stored values.
func applyDescriptive(cur Entity, r ingestRow, tax Taxonomy) (Entity, bool) {
	changed := false
	if r.name != "" && !strings.EqualFold(strings.TrimSpace(cur.Name), r.name) {
		cur.Name = r.name
		changed = true
	}
	if r.record.Site != "" && !strings.EqualFold(strings.TrimSpace(cur.Site), r.record.Site) {
		cur.Site = r.record.Site
		cur.SiteCategory = tax.SiteCategoryFor(r.record.Site)
		changed = true
	}
	if r.desig != "" && !strings.EqualFold(strings.TrimSpace(cur.Designation), r.desig) {
		cur.Designation = r.desig
		changed = true
	}
	if cur.SiteCategory == "" {
		cur.SiteCategory = tax.SiteCategoryFor(cur.Site)
		changed = true
	}
	return cur, changed
}

// normalizedIngest is a raw row that passed natural-key extraction.
type normalizedIngest struct {
	line int
	row  ingestRow
}

// normalizeIngestRows extracts natural keys from raw rows. Rows missing an
// entity id or a parseable date are reported and skipped.
func normalizeIngestRows(raw []map[string]string) ([]normalizedIngest, []IngestRowError) {
	var out []normalizedIngest
	var errs []IngestRowError

	for line, r := range raw {
		row := normalizeRawRow(r)

		idKey, id := firstAlias(row, entityIDAliases)
		id = normalizeEntityID(id)
		if id == "" {
			errs = append(errs, IngestRowError{Line: line, Reason: "missing entity id"})
			continue
		}

		dateKey, rawDate := firstAlias(row, dateAliases)
		if rawDate == "" {
			errs = append(errs, IngestRowError{Line: line, Reason: "missing date"})
			continue
		}
		date, ok := ParseDate(rawDate)
		if !ok {
			errs = append(errs, IngestRowError{Line: line, Reason: "invalid date " + rawDate})
			continue
		}

		nameKey, name := firstAlias(row, nameAliases)
		siteKey, site := firstAlias(row, siteAliases)
		statusKey, status := firstAlias(row, statusAliases)
		desigKey, desig := firstAlias(row, designationAliases)

		used := map[string]bool{idKey: true, dateKey: true, nameKey: true, siteKey: true, statusKey: true, desigKey: true}
		var extra map[string]string
		for k, v := range row {
			if used[k] || v == "" {
				continue
			}
			if extra == nil {
				extra = make(map[string]string)
			}
			extra[k] = v
		}

		out = append(out, normalizedIngest{
			line: line,
			row: ingestRow{
				record: AttendanceRecord{
					EntityID: id,
					Date:     date,
					Status:   status,
					Site:     site,
					Extra:    extra,
				},
				name:  name,
				desig: desig,
			},
		})
	}

	return out, errs
}

// entityIDs returns the distinct entity ids referenced by rows, in first-seen order.
func entityIDs(rows []normalizedIngest) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range rows {
		id := r.row.record.EntityID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
