package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// Client talks to the project's PostgREST API with the service role key.
type Client struct {
	Supabase *supabase.Client
	baseURL  string
}

func NewClient(supabaseURL, serviceRoleKey string) (*Client, error) {
	baseURL := strings.TrimRight(supabaseURL, "/")
	client, err := supabase.NewClient(baseURL, serviceRoleKey, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		Supabase: client,
		baseURL:  baseURL,
	}, nil
}

// TableURL is the REST endpoint of table.
func (c *Client) TableURL(table string) string {
	return fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
}

// UpsertRow inserts row into table, merging on the onConflict column.
func (c *Client) UpsertRow(ctx context.Context, table string, row any, onConflict string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := c.Supabase.From(table).Upsert(row, onConflict, "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}
