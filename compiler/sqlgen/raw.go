// Package sqlgen compiles the golem query IR into parameterized SQL.
// This file binds the "?" markers of raw fragments to dialect placeholders.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leandroluk/golem/v2/core"
)

// rewritePlaceholders replaces every "?" marker outside quoted literals and
// identifiers with the dialect placeholder for the next bound argument.
// "??" stands for a literal question mark.
func rewritePlaceholders(fragment string, argList []any, bind func(any) string) (string, error) {
	var sb strings.Builder
	var quote rune
	next := 0
	runeList := []rune(fragment)
	for i := 0; i < len(runeList); i++ {
		r := runeList[i]
		if quote != 0 {
			sb.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
			sb.WriteRune(r)
		case '?':
			if i+1 < len(runeList) && runeList[i+1] == '?' {
				sb.WriteRune('?')
				i++
				continue
			}
			if next >= len(argList) {
				return "", &core.Error{Op: "compile", Err: fmt.Errorf("%w: raw fragment has more markers than arguments (%d)", core.ErrQueryCompilation, len(argList))}
			}
			sb.WriteString(bind(argList[next]))
			next++
		default:
			sb.WriteRune(r)
		}
	}
	if quote != 0 {
		return "", &core.Error{Op: "compile", Err: fmt.Errorf("%w: unterminated quote in raw fragment", core.ErrQueryCompilation)}
	}
	if next != len(argList) {
		return "", &core.Error{Op: "compile", Err: fmt.Errorf("%w: raw fragment binds %d of %d arguments", core.ErrQueryCompilation, next, len(argList))}
	}
	return sb.String(), nil
}
