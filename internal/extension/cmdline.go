package extension

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ParseCommandLine turns a shell-style command line such as
//
//	FOO=bar npx -y "@scope/server" --port 3000
//
// into a Stdio launch. Only a single simple command is accepted; pipes,
// redirections, expansions and command substitutions are rejected since the
// command is started directly, without a shell.
func ParseCommandLine(line string) (Stdio, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return Stdio{}, fmt.Errorf("failed to parse command: %w", err)
	}
	if len(file.Stmts) != 1 {
		return Stdio{}, fmt.Errorf("expected one command, got %d", len(file.Stmts))
	}

	stmt := file.Stmts[0]
	if len(stmt.Redirs) > 0 || stmt.Background || stmt.Negated || stmt.Coprocess {
		return Stdio{}, errors.New("redirections and job control are not supported")
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return Stdio{}, errors.New("only a simple command is supported")
	}
	if len(call.Args) == 0 {
		return Stdio{}, errors.New("missing command")
	}

	var s Stdio
	for _, assign := range call.Assigns {
		if assign.Name == nil || assign.Append || assign.Array != nil || assign.Index != nil {
			return Stdio{}, errors.New("unsupported environment assignment")
		}
		value := ""
		if assign.Value != nil {
			if value, err = wordToString(assign.Value); err != nil {
				return Stdio{}, fmt.Errorf("%s: %w", assign.Name.Value, err)
			}
		}
		if s.Envs == nil {
			s.Envs = map[string]string{}
		}
		s.Envs[assign.Name.Value] = value
	}

	for i, word := range call.Args {
		arg, err := wordToString(word)
		if err != nil {
			return Stdio{}, err
		}
		if i == 0 {
			s.Command = arg
			continue
		}
		s.Args = append(s.Args, arg)
	}
	if s.Command == "" {
		return Stdio{}, errors.New("missing command")
	}
	return s, nil
}

// wordToString resolves a word made only of literals and quotes.
func wordToString(word *syntax.Word) (string, error) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				lit, ok := qp.(*syntax.Lit)
				if !ok {
					return "", errors.New("expansions inside double quotes are not supported")
				}
				sb.WriteString(unescapeQuoted(lit.Value))
			}
		case *syntax.ParamExp:
			return "", fmt.Errorf("variable $%s is not supported, set it in the extension environment", p.Param.Value)
		case *syntax.CmdSubst:
			return "", errors.New("command substitution is not supported")
		default:
			return "", fmt.Errorf("unsupported shell syntax %T", p)
		}
	}
	return sb.String(), nil
}

// unescape drops the backslash of an unquoted escape: `a\ b` is "a b".
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapeQuoted handles the escapes that are special inside double quotes.
func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("$`\"\\", s[i+1]) >= 0 {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// CommandLine renders a Stdio launch back into a command line that
// ParseCommandLine accepts.
func CommandLine(s Stdio) string {
	parts := make([]string, 0, len(s.Envs)+1+len(s.Args))
	for _, k := range sortedStringKeys(s.Envs) {
		parts = append(parts, k+"="+quote(s.Envs[k]))
	}
	parts = append(parts, quote(s.Command))
	for _, a := range s.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
