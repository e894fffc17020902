// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"bytes"
	"fmt"
	"strings"
)

const termTimeFormat = "01-02|15:04:05.000"
const termMsgJust = 40

type Format interface {
	Format(r *Record) []byte
}

type formatFunc func(*Record) []byte

func (f formatFunc) Format(r *Record) []byte { return f(r) }

func FormatFunc(f func(*Record) []byte) Format { return formatFunc(f) }

// TerminalFormat renders a record as:
//
//	LVL[time] msg key=value key=value ...
func TerminalFormat(usecolor bool) Format {
	return FormatFunc(func(r *Record) []byte {
		var color = 0
		if usecolor {
			switch r.Lvl {
			case LvlCrit:
				color = 35
			case LvlError:
				color = 31
			case LvlWarn:
				color = 33
			case LvlInfo:
				color = 32
			case LvlDebug:
				color = 36
			case LvlTrace:
				color = 34
			}
		}

		b := &bytes.Buffer{}
		lvl := r.Lvl.AlignedString()
		if color > 0 {
			fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m[%s] %s ", color, lvl, r.Time.Format(termTimeFormat), r.Msg)
		} else {
			fmt.Fprintf(b, "%s[%s] %s ", lvl, r.Time.Format(termTimeFormat), r.Msg)
		}

		if len(r.Ctx) > 0 && b.Len() < termMsgJust {
			b.Write(bytes.Repeat([]byte{' '}, termMsgJust-b.Len()))
		}
		logfmt(b, r.Ctx, color)
		return b.Bytes()
	})
}

// LogfmtFormat renders key=value pairs only, for non-interactive output.
func LogfmtFormat() Format {
	return FormatFunc(func(r *Record) []byte {
		b := &bytes.Buffer{}
		fmt.Fprintf(b, "t=%s lvl=%s msg=%q ", r.Time.Format(termTimeFormat), strings.TrimSpace(r.Lvl.AlignedString()), r.Msg)
		logfmt(b, r.Ctx, 0)
		return b.Bytes()
	})
}

func logfmt(b *bytes.Buffer, ctx []interface{}, color int) {
	for i := 0; i < len(ctx); i += 2 {
		k, ok := ctx[i].(string)
		v := formatLogfmtValue(safe(ctx, i+1))
		if !ok {
			k, v = errorKey, formatLogfmtValue(ctx[i])
		}
		if i != 0 {
			b.WriteByte(' ')
		}
		if color > 0 {
			fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m=%s", color, k, v)
		} else {
			fmt.Fprintf(b, "%s=%s", k, v)
		}
	}
	b.WriteByte('\n')
}

func safe(ctx []interface{}, i int) interface{} {
	if i < len(ctx) {
		return ctx[i]
	}
	return nil
}

func formatLogfmtValue(value interface{}) string {
	if value == nil {
		return "nil"
	}
	switch v := value.(type) {
	case error:
		return formatLogfmtValue(v.Error())
	case string:
		if strings.ContainsAny(v, " \"=") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case fmt.Stringer:
		return formatLogfmtValue(v.String())
	default:
		return fmt.Sprintf("%+v", value)
	}
}
