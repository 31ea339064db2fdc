package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgard/chatindex/internal/search"
)

type searchOptions struct {
	typeFilter string
	offset     int
	limit      int
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	so := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Search the index with the owner's settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return searchIndex(cmd.Context(), opts.configPath, cmd.OutOrStdout(), args, so)
		},
	}
	cmd.Flags().StringVar(&so.typeFilter, "type", "", "Only match one type (text, photo, video, animation, document, voice)")
	cmd.Flags().IntVar(&so.offset, "offset", 0, "Result offset")
	cmd.Flags().IntVar(&so.limit, "limit", search.PageLimitMax, "Results per page (1-5)")
	return cmd
}

func searchIndex(ctx context.Context, configPath string, out io.Writer, terms []string, so *searchOptions) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.GetSettings(ctx, a.cfg.Telegram.OwnerID)
	if err != nil {
		return err
	}
	page, err := a.search.Query(ctx, search.Request{
		Terms:      terms,
		TypeFilter: strings.ToLower(so.typeFilter),
		Offset:     so.offset,
		Limit:      so.limit,
		Settings:   search.SettingsFromRecord(rec),
	})
	if err != nil {
		return err
	}

	// persist the window the query produced
	a.writer.Close()
	if err := a.writer.Run(ctx); err != nil {
		a.log.Warn("Failed to store search window", "error", err)
	}

	return printPage(out, page)
}

func printPage(out io.Writer, page *search.Page) error {
	fmt.Fprintf(out, "%d results (offset %d, cache %s)\n", page.Total, page.Offset, page.Status)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAT\tMESSAGE\tTIME\tTYPE\tBODY")
	for _, r := range page.Rows {
		body := strings.Join(strings.Fields(r.Body), " ")
		if runes := []rune(body); len(runes) > 80 {
			body = string(runes[:79]) + "…"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", r.ChatID, r.MessageID, r.EventTime.UTC().Format("2006-01-02 15:04"), r.DocType, body)
	}
	return tw.Flush()
}
