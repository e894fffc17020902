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
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root = &logger{[]interface{}{}, new(swapHandler)}

func init() {
	isTerm := isatty.IsTerminal(os.Stderr.Fd())
	var out = colorable.NewColorableStderr()
	root.SetHandler(LvlFilterHandler(LvlInfo, StreamHandler(out, TerminalFormat(isTerm))))
}

// Root returns the root logger.
func Root() Logger { return root }

// New returns a new logger with the given context, rooted at the package
// root logger.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

func SetLevel(lvl Lvl) {
	root.SetHandler(LvlFilterHandler(lvl, root.GetHandler()))
}

func Trace(msg string, ctx ...interface{}) { root.write(msg, LvlTrace, ctx, skipLevel) }
func Debug(msg string, ctx ...interface{}) { root.write(msg, LvlDebug, ctx, skipLevel) }
func Info(msg string, ctx ...interface{})  { root.write(msg, LvlInfo, ctx, skipLevel) }
func Warn(msg string, ctx ...interface{})  { root.write(msg, LvlWarn, ctx, skipLevel) }
func Error(msg string, ctx ...interface{}) { root.write(msg, LvlError, ctx, skipLevel) }
func Crit(msg string, ctx ...interface{}) {
	root.write(msg, LvlCrit, ctx, skipLevel)
	os.Exit(1)
}
