// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// parse.go - Offline answer interpretation for citechat.
//
// Handles "citechat parse", which reads a raw answer (for example one saved
// from the backend) and prints the interpreted form. No backend is needed.
//
// Examples:
//
//	echo 'Plans differ [a.pdf]. <<What is covered?>>' | citechat parse
//	citechat parse --file answer.txt --json
//	citechat parse --streaming --placeholder superscript < partial.txt
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/render"
)

// maxParseInput bounds how much input "parse" reads.
const maxParseInput = 4 << 20

// HandleParse handles the "parse" command.
func HandleParse(env *Env, args Args) error {
	p := args.Parser("streaming")

	raw, err := readParseInput(env, p)
	if err != nil {
		return err
	}

	placeholder := p.Flag("placeholder")
	if placeholder != "" && !validPlaceholder(placeholder) {
		return NewValidationErrorWithExample("placeholder", placeholder, "unknown style", "--placeholder html|superscript")
	}

	streaming := p.BoolFlag("streaming")

	if args.JSON {
		if placeholder == "" {
			placeholder = env.Config.Answer.Placeholder
		}
		parsed := env.parserFor(placeholder).Parse(raw, streaming)
		return NewJSONResponse("parse", NewAnswerData(parsed, env.Resolver())).Write(env.Stdout)
	}

	// Text output defaults to superscripts; an explicit style wins.
	var parser *answer.Parser
	if placeholder == "" {
		parser = answer.NewParser(answer.WithPlaceholder(render.Placeholder))
	} else {
		parser = env.parserFor(placeholder)
	}
	parsed := parser.Parse(raw, streaming)
	fmt.Fprint(env.Stdout, render.PlainRenderer{Width: wrapWidth(env.Config.Render.WordWrap)}.Render(parsed, env.Resolver()))
	return nil
}

func readParseInput(env *Env, p *ArgParser) (string, error) {
	var r io.Reader = env.Stdin
	if path := p.Flag("file"); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", WrapError(err, "failed to open input")
		}
		defer f.Close()
		r = f
	} else if pos := p.Positional(0); pos != "" && pos != "-" {
		// Text given inline: citechat parse 'Answer [a.pdf]'
		return JoinPositionalArgs(p, 0), nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxParseInput))
	if err != nil {
		return "", WrapError(err, "failed to read input")
	}
	return string(data), nil
}

func validPlaceholder(name string) bool {
	switch strings.ToLower(name) {
	case "html", "superscript", "unicode", "terminal":
		return true
	}
	return false
}
