package main

import (
	"context"
	"fmt"
	"log"
)

// documentStore is the slice of the store client the committer needs. The
// tests substitute an in-memory fake.
type documentStore interface {
	BuildSnapshot(ctx context.Context, id int) (DocumentSnapshot, error)
	PatchDocument(ctx context.Context, id int, payload map[string]any) error
	EnsureTag(ctx context.Context, name string) (int, error)
	CustomFieldID(name string) (int, bool)
}

// BuildPlan turns merge decisions into the minimal set of store mutations.
// Only AUTO_APPLY outcomes enter the plan; a document with deferred fields
// gets the review marker instead of the processed marker. Tags already on
// the document are not re-added and absent tags are not re-removed.
func BuildPlan(snap DocumentSnapshot, decisions MergeDecisions, tmpl *Template, cfg Config) CommitPlan {
	plan := CommitPlan{DocID: snap.ID}

	for _, d := range decisions.AutoApply() {
		if d.Field == "title" {
			continue
		}
		plan.Fields = append(plan.Fields, FieldDiff{
			Field:    d.Field,
			OldValue: d.Existing,
			NewValue: d.Proposed,
		})
	}

	if decisions.Title != nil && decisions.Title.Action == ActionAutoApply {
		plan.Title = decisions.Title.Proposed
	}

	addTag := func(name string) {
		if name == "" || snap.HasTag(name) {
			return
		}
		for _, t := range plan.TagsAdd {
			if equalsFold(t, name) {
				return
			}
		}
		plan.TagsAdd = append(plan.TagsAdd, name)
	}
	removeTag := func(name string) {
		if name == "" || !snap.HasTag(name) {
			return
		}
		plan.TagsRemove = append(plan.TagsRemove, name)
	}

	for _, t := range tmpl.TagsAdd {
		addTag(t)
	}
	for _, t := range tmpl.TagsRemove {
		removeTag(t)
	}
	if decisions.ReviewNeeded() {
		addTag(cfg.ReviewTag)
	} else {
		addTag(cfg.ProcessedTag)
	}
	if decisions.RemoveInbox {
		removeTag(cfg.InboxTag)
	}

	return plan
}

// Committer applies and verifies commit plans. In dry-run mode Apply is a
// logged no-op so decisions and plans stay observable without any store
// mutation.
type Committer struct {
	store  documentStore
	dryRun bool
}

func NewCommitter(store documentStore, dryRun bool) *Committer {
	return &Committer{store: store, dryRun: dryRun}
}

// Apply pushes a plan to the store in one PATCH. The custom-field list is
// rebuilt from the snapshot's raw values with only the planned diffs
// replaced, so untouched fields round-trip unmodified.
func (c *Committer) Apply(ctx context.Context, snap DocumentSnapshot, plan CommitPlan) error {
	if plan.IsEmpty() {
		log.Printf("commit doc=%d empty plan, nothing to apply", plan.DocID)
		return nil
	}
	if c.dryRun {
		log.Printf("commit doc=%d dry-run fields=%d tags_add=%v tags_remove=%v title=%q",
			plan.DocID, len(plan.Fields), plan.TagsAdd, plan.TagsRemove, plan.Title)
		return nil
	}

	payload := make(map[string]any)

	if len(plan.Fields) > 0 {
		fields := make([]paperlessCustomFieldValue, len(snap.RawCustomFields))
		copy(fields, snap.RawCustomFields)
		for _, diff := range plan.Fields {
			id, ok := c.store.CustomFieldID(diff.Field)
			if !ok {
				return configErrorf("custom field %q not defined in the store", diff.Field)
			}
			replaced := false
			for i := range fields {
				if fields[i].Field == id {
					fields[i].Value = diff.NewValue
					replaced = true
					break
				}
			}
			if !replaced {
				fields = append(fields, paperlessCustomFieldValue{Field: id, Value: diff.NewValue})
			}
		}
		payload["custom_fields"] = fields
	}

	if plan.Title != "" {
		payload["title"] = plan.Title
	}

	if len(plan.TagsAdd) > 0 || len(plan.TagsRemove) > 0 {
		tags, err := c.resolveTags(ctx, snap, plan)
		if err != nil {
			return err
		}
		payload["tags"] = tags
	}

	if err := c.store.PatchDocument(ctx, plan.DocID, payload); err != nil {
		return fmt.Errorf("applying plan doc=%d: %w", plan.DocID, err)
	}
	log.Printf("commit doc=%d applied fields=%d tags_add=%v tags_remove=%v title=%q",
		plan.DocID, len(plan.Fields), plan.TagsAdd, plan.TagsRemove, plan.Title)
	return nil
}

func (c *Committer) resolveTags(ctx context.Context, snap DocumentSnapshot, plan CommitPlan) ([]int, error) {
	remove := make(map[int]bool)
	for _, name := range plan.TagsRemove {
		id, err := c.store.EnsureTag(ctx, name)
		if err != nil {
			return nil, err
		}
		remove[id] = true
	}

	var tags []int
	seen := make(map[int]bool)
	for _, id := range snap.TagIDs {
		if remove[id] || seen[id] {
			continue
		}
		seen[id] = true
		tags = append(tags, id)
	}
	for _, name := range plan.TagsAdd {
		id, err := c.store.EnsureTag(ctx, name)
		if err != nil {
			return nil, err
		}
		if !seen[id] && !remove[id] {
			seen[id] = true
			tags = append(tags, id)
		}
	}
	return tags, nil
}

// Verify re-reads the document after an apply and checks every intended
// change landed. Mismatches are returned for incident recording; the commit
// is never retried off the back of one, since a blind retry risks doubling
// tag churn on a concurrently edited document.
func (c *Committer) Verify(ctx context.Context, plan CommitPlan) ([]*VerificationMismatch, error) {
	if plan.IsEmpty() || c.dryRun {
		return nil, nil
	}
	snap, err := c.store.BuildSnapshot(ctx, plan.DocID)
	if err != nil {
		return nil, fmt.Errorf("verify re-read doc=%d: %w", plan.DocID, err)
	}

	var mismatches []*VerificationMismatch
	for _, diff := range plan.Fields {
		observed := snap.FieldValue(diff.Field)
		if !ValuesMatch(observed, diff.NewValue) {
			mismatches = append(mismatches, &VerificationMismatch{
				DocID: plan.DocID, Field: diff.Field, Intended: diff.NewValue, Observed: observed,
			})
		}
	}
	if plan.Title != "" && snap.Title != plan.Title {
		mismatches = append(mismatches, &VerificationMismatch{
			DocID: plan.DocID, Field: "title", Intended: plan.Title, Observed: snap.Title,
		})
	}
	for _, name := range plan.TagsAdd {
		if !snap.HasTag(name) {
			mismatches = append(mismatches, &VerificationMismatch{
				DocID: plan.DocID, Field: "tag:" + name, Intended: "present", Observed: "absent",
			})
		}
	}
	for _, name := range plan.TagsRemove {
		if snap.HasTag(name) {
			mismatches = append(mismatches, &VerificationMismatch{
				DocID: plan.DocID, Field: "tag:" + name, Intended: "absent", Observed: "present",
			})
		}
	}

	for _, m := range mismatches {
		log.Printf("commit verify mismatch %v", m)
	}
	return mismatches, nil
}
