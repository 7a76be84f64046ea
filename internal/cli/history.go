// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved answer command handler for citechat.
//
// Command: history [subcommand]
// Aliases: hist
//
// Subcommands:
//
//	list [--limit N] [--search TEXT]   Newest first (default)
//	search TEXT                         Same as list --search
//	show <N|id> [--markdown]            One answer; N counts from the newest
//	delete <N|id>                       Remove one answer
//	clear --confirm                     Remove all answers
package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/render"
	"github.com/jeranaias/citechat/internal/storage"
)

var historySubcommands = []string{"list", "search", "show", "delete", "clear"}

// defaultHistoryLimit is how many answers "history list" shows.
const defaultHistoryLimit = 20

// HandleHistory handles the "history" command.
func HandleHistory(ctx context.Context, env *Env, args Args) error {
	p := args.Parser("confirm", "markdown")

	store, err := env.OpenStore()
	if err != nil {
		return err
	}
	if store == nil {
		return NewCommandError("history", p.Subcommand(), "history is disabled (storage.enabled = false)", nil)
	}
	defer store.Close()

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return historyList(ctx, env, args, store, p.Flag("search"), p)
	case "search":
		q := JoinPositionalArgs(p, 1)
		if q == "" {
			return ErrMissingArgument("text", "citechat history search dental")
		}
		return historyList(ctx, env, args, store, q, p)
	case "show":
		ref := p.Positional(1)
		if ref == "" {
			return ErrMissingArgument("answer", "citechat history show 1")
		}
		return historyShow(ctx, env, args, store, ref, p.BoolFlag("markdown"))
	case "delete", "rm":
		ref := p.Positional(1)
		if ref == "" {
			return ErrMissingArgument("answer", "citechat history delete 1")
		}
		return historyDelete(ctx, env, args, store, ref)
	case "clear":
		if !p.BoolFlag("confirm") {
			return NewValidationErrorWithExample("confirm", "", "clearing history needs --confirm", "citechat history clear --confirm")
		}
		return historyClear(ctx, env, args, store)
	default:
		return ErrUnknownSubcommand("history", sub, historySubcommands)
	}
}

func historyList(ctx context.Context, env *Env, args Args, store *storage.Store, search string, p *ArgParser) error {
	limit := defaultHistoryLimit
	if v := p.Flag("limit"); v != "" {
		n, err := ParseIntWithValidation(v, "limit")
		if err != nil {
			return NewValidationErrorWithExample("limit", v, err.Error(), "citechat history list --limit 50")
		}
		limit = n
	}

	var metas []storage.RecordMeta
	var err error
	if search != "" {
		metas, err = store.Search(ctx, search, limit)
	} else {
		metas, err = store.List(ctx, limit)
	}
	if err != nil {
		return NewCommandError("history", "list", "query failed", err)
	}

	if args.JSON {
		if metas == nil {
			metas = []storage.RecordMeta{}
		}
		return NewJSONResponse("history list", HistoryListData{Count: len(metas), Answers: metas}).Write(env.Stdout)
	}
	fmt.Fprint(env.Stdout, storage.FormatList(metas))
	if len(metas) == 0 {
		fmt.Fprintln(env.Stdout)
	}
	return nil
}

func historyShow(ctx context.Context, env *Env, args Args, store *storage.Store, ref string, markdown bool) error {
	rec, err := lookupRecord(ctx, store, ref)
	if err != nil {
		return err
	}

	switch {
	case args.JSON:
		return NewJSONResponse("history show", rec).Write(env.Stdout)
	case markdown:
		fmt.Fprint(env.Stdout, rec.ExportMarkdown())
		return nil
	}

	parsed := answer.NewParser(answer.WithPlaceholder(render.Placeholder)).Parse(rec.Answer, false)
	fmt.Fprintf(env.Stdout, "%s\n", RenderConditional(TitleStyle, rec.Question))
	fmt.Fprintln(env.Stdout, RenderConditional(DimStyle, rec.CreatedAt.Format("2006-01-02 15:04")+"  "+rec.ID))
	fmt.Fprintln(env.Stdout)
	fmt.Fprint(env.Stdout, renderAnswer(env, parsed))
	if rec.Err != "" {
		fmt.Fprintf(env.Stdout, "\n%s %s\n", RenderConditional(WarningStyle, "Failed:"), rec.Err)
	}
	return nil
}

func historyDelete(ctx context.Context, env *Env, args Args, store *storage.Store, ref string) error {
	rec, err := lookupRecord(ctx, store, ref)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, rec.ID); err != nil {
		return NewCommandError("history", "delete", "delete failed", err)
	}
	if args.JSON {
		return NewJSONResponse("history delete", map[string]string{"id": rec.ID}).Write(env.Stdout)
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", RenderConditional(SuccessStyle, "Deleted"), rec.ID)
	return nil
}

func historyClear(ctx context.Context, env *Env, args Args, store *storage.Store) error {
	n, err := store.Clear(ctx)
	if err != nil {
		return NewCommandError("history", "clear", "clear failed", err)
	}
	if args.JSON {
		return NewJSONResponse("history clear", map[string]int64{"deleted": n}).Write(env.Stdout)
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", RenderConditional(SuccessStyle, "Deleted"), plural(int(n), "answer"))
	return nil
}

// lookupRecord resolves an index or ID, mapping a miss to NotFoundError.
func lookupRecord(ctx context.Context, store *storage.Store, ref string) (*storage.Record, error) {
	rec, err := store.Lookup(ctx, ref)
	if err != nil {
		return nil, WrapError(err, "answer "+ref)
	}
	return rec, nil
}
