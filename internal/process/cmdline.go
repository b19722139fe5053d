package process

import (
	"strings"
	"unicode"
)

// SplitArgs splits an operator supplied command line into arguments.
//
// Whitespace separates arguments outside quotes. Single and double quotes
// group text and may be mixed within one argument. A backslash escapes the
// next character everywhere except inside single quotes; inside double
// quotes \0, \n and \r produce NUL, LF and CR.
func SplitArgs(s string) []string {
	runes := []rune(s)
	var args []string
	for i := 0; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			continue
		}
		var arg string
		arg, i = readArg(runes, i)
		args = append(args, arg)
	}
	return args
}

func readArg(r []rune, i int) (string, int) {
	var b strings.Builder
	var quote rune

	for ; i < len(r); i++ {
		c := r[i]
		switch {
		case c == '"' || c == '\'':
			switch quote {
			case 0:
				quote = c
			case c:
				quote = 0
			default:
				b.WriteRune(c)
			}
		case c == '\\' && quote != '\'':
			if i+1 == len(r) {
				b.WriteRune(c)
				continue
			}
			i++
			c = r[i]
			if quote == '"' {
				switch c {
				case '0':
					c = 0
				case 'n':
					c = '\n'
				case 'r':
					c = '\r'
				}
			}
			b.WriteRune(c)
		case quote == 0 && unicode.IsSpace(c):
			return b.String(), i
		default:
			b.WriteRune(c)
		}
	}
	return b.String(), i
}

// JoinArgs is the inverse of SplitArgs: SplitArgs(JoinArgs(args)) == args.
func JoinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsFunc(arg, needsQuoting) {
		return arg
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, c := range arg {
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(c)
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func needsQuoting(c rune) bool {
	return unicode.IsSpace(c) || c == '"' || c == '\'' || c == '\\' || c == 0
}
