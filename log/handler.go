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
	"io"
	"sync"
)

// Handler defines where and how log records are written. Loggers print by
// writing to a Handler; handlers compose.
type Handler interface {
	Log(r *Record) error
}

func FuncHandler(fn func(r *Record) error) Handler {
	return funcHandler(fn)
}

type funcHandler func(r *Record) error

func (h funcHandler) Log(r *Record) error { return h(r) }

// StreamHandler writes log records to an io.Writer with the given Format,
// serialized through a mutex so concurrent writers don't interleave.
func StreamHandler(wr io.Writer, fmtr Format) Handler {
	h := FuncHandler(func(r *Record) error {
		_, err := wr.Write(fmtr.Format(r))
		return err
	})
	return SyncHandler(h)
}

func SyncHandler(h Handler) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) error {
		mu.Lock()
		defer mu.Unlock()
		return h.Log(r)
	})
}

func FilterHandler(fn func(r *Record) bool, h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		if fn(r) {
			return h.Log(r)
		}
		return nil
	})
}

// LvlFilterHandler only lets through records at or below maxLvl (lower value
// = more severe, matching the Lvl iota order).
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return FilterHandler(func(r *Record) bool {
		return r.Lvl <= maxLvl
	}, h)
}

// MultiHandler fans a record out to every wrapped handler.
func MultiHandler(hs ...Handler) Handler {
	return FuncHandler(func(r *Record) error {
		for _, h := range hs {
			h.Log(r)
		}
		return nil
	})
}

func DiscardHandler() Handler {
	return FuncHandler(func(r *Record) error { return nil })
}

// swapHandler wraps another handler that may be swapped out dynamically.
// It's used to allow loggers to be dynamically updated.
type swapHandler struct {
	mu sync.Mutex
	h  Handler
}

func (h *swapHandler) Log(r *Record) error {
	h.mu.Lock()
	cur := h.h
	h.mu.Unlock()
	return cur.Log(r)
}

func (h *swapHandler) Swap(newHandler Handler) {
	h.mu.Lock()
	h.h = newHandler
	h.mu.Unlock()
}

func (h *swapHandler) Get() Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h
}
