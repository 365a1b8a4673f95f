// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	DefaultCategory = "general"

	insertTemplateQuery = `
		INSERT INTO message_templates (name, content, category, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`
	getTemplatesQuery = `
		SELECT name, content, category, created_at FROM message_templates
	`
	getTemplatesByCategoryQuery = getTemplatesQuery + `WHERE category = $1 ORDER BY name`
	getAllTemplatesQuery        = getTemplatesQuery + `ORDER BY category, name`
	getRandomTemplateQuery      = getTemplatesQuery + `WHERE category = $1 ORDER BY RANDOM() LIMIT 1`
)

// DefaultTemplates are seeded on first start. {price}, {features}, {kills}
// and {hours} are filled from the promo variables.
var DefaultTemplates = []relay.Template{
	{Name: "weekly_pass", Content: "🔥 Weekly pass only {price}! 👑 #VIP", Category: relay.PromoCategory},
	{Name: "monthly_pass", Content: "💎 Monthly package: {features} ⚡ #VIP", Category: relay.PromoCategory},
	{Name: "victory_post", Content: "💀 Victory! {kills} kills with VIP 🎯 #Win #VIP", Category: "victory"},
	{Name: "urgent_sale", Content: "🚀 LAST {hours} HOURS! Special price 🔥 #VIP", Category: "urgent"},
}

// AddTemplate stores a template. It reports false if a template with the
// same name already exists.
func (s *Store) AddTemplate(ctx context.Context, tpl relay.Template) (bool, error) {
	if tpl.Category == "" {
		tpl.Category = DefaultCategory
	}
	createdAt := tpl.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.Exec(ctx, insertTemplateQuery, tpl.Name, tpl.Content, tpl.Category, createdAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert template %q: %w", tpl.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inserted template: %w", err)
	}
	return n > 0, nil
}

// SeedDefaultTemplates inserts DefaultTemplates that are missing.
func (s *Store) SeedDefaultTemplates(ctx context.Context) error {
	for _, tpl := range DefaultTemplates {
		added, err := s.AddTemplate(ctx, tpl)
		if err != nil {
			return err
		}
		if added {
			s.log.Debug().Str("template", tpl.Name).Msg("Seeded default template")
		}
	}
	return nil
}

// Templates lists templates, optionally filtered by category.
func (s *Store) Templates(ctx context.Context, category string) ([]relay.Template, error) {
	var rows dbutil.Rows
	var err error
	if category == "" {
		rows, err = s.db.Query(ctx, getAllTemplatesQuery)
	} else {
		rows, err = s.db.Query(ctx, getTemplatesByCategoryQuery, category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()
	var out []relay.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tpl)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return out, nil
}

// RandomTemplate returns a random template of category, or nil if there is
// none.
func (s *Store) RandomTemplate(ctx context.Context, category string) (*relay.Template, error) {
	tpl, err := scanTemplate(s.db.QueryRow(ctx, getRandomTemplateQuery, category))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tpl, err
}

func scanTemplate(row dbutil.Scannable) (*relay.Template, error) {
	var tpl relay.Template
	var createdAt int64
	if err := row.Scan(&tpl.Name, &tpl.Content, &tpl.Category, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	tpl.CreatedAt = time.UnixMilli(createdAt)
	return &tpl, nil
}
