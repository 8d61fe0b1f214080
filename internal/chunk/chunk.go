// Package chunk turns lazy sequences into bounded batches and merges
// sorted sequences without collecting them.
package chunk

import (
	"context"
	"iter"
)

// DefaultSize is the number of entries per chunk when the caller does not
// pick one.
const DefaultSize = 20

// Chunked groups seq into slices of at most size entries, stopping after
// limit entries. A negative limit means no limit and a zero limit yields
// nothing. Empty chunks are never produced. The first error from seq is
// yielded once and ends the sequence.
func Chunked[T any](seq iter.Seq2[T, error], size, limit int) iter.Seq2[[]T, error] {
	if size < 1 {
		size = DefaultSize
	}
	return func(yield func([]T, error) bool) {
		if limit == 0 {
			return
		}

		batch := make([]T, 0, size)
		taken := 0
		for item, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, item)
			taken++

			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make([]T, 0, size)
			}
			if limit > 0 && taken >= limit {
				break
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// Take stops seq after limit entries. A negative limit means no limit.
func Take[T any](seq iter.Seq2[T, error], limit int) iter.Seq2[T, error] {
	if limit < 0 {
		return seq
	}
	return func(yield func(T, error) bool) {
		if limit == 0 {
			return
		}
		taken := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			taken++
			if taken >= limit {
				return
			}
		}
	}
}

// Filter keeps the entries of seq for which keep is true.
func Filter[T any](seq iter.Seq2[T, error], keep func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range seq {
			if err != nil {
				yield(item, err)
				return
			}
			if keep(item) && !yield(item, nil) {
				return
			}
		}
	}
}

// Map applies f to every entry of seq.
func Map[T, U any](seq iter.Seq2[T, error], f func(T) U) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		for item, err := range seq {
			if err != nil {
				var zero U
				yield(zero, err)
				return
			}
			if !yield(f(item), nil) {
				return
			}
		}
	}
}

// FromSlice yields the entries of items.
func FromSlice[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Pager is the pull form of Chunked.
type Pager[T any] struct {
	next func() ([]T, error, bool)
	stop func()
}

// NewPager creates a pager over seq. Stop must be called when the caller
// is done, even if it did not drain the pager.
func NewPager[T any](seq iter.Seq2[T, error], size, limit int) *Pager[T] {
	next, stop := iter.Pull2(Chunked(seq, size, limit))
	return &Pager[T]{next: next, stop: stop}
}

// Next returns the next chunk. ok is false once the sequence is exhausted.
func (p *Pager[T]) Next() (batch []T, ok bool, err error) {
	batch, err, ok = p.next()
	if !ok {
		return nil, false, nil
	}
	return batch, true, err
}

// Stop releases the underlying sequence.
func (p *Pager[T]) Stop() {
	p.stop()
}

// Send pulls chunks from seq and hands each one to send. Nothing is read
// ahead of the chunk being sent, and pulling stops as soon as ctx is done
// or send fails.
func Send[T any](ctx context.Context, seq iter.Seq2[T, error], size, limit int, send func([]T) error) error {
	pager := NewPager(seq, size, limit)
	defer pager.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, ok, err := pager.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := send(batch); err != nil {
			return err
		}
	}
}

type mergeSource[T any] struct {
	next func() (T, error, bool)
	head T
	live bool
}

// Merge merges sequences that are each sorted by cmp into one sorted
// sequence. Entries are pulled one at a time; equal entries come out in
// the order of the sequences given.
func Merge[T any](cmp func(a, b T) int, seqs ...iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		sources := make([]*mergeSource[T], 0, len(seqs))
		stops := make([]func(), 0, len(seqs))
		defer func() {
			for _, stop := range stops {
				stop()
			}
		}()

		advance := func(s *mergeSource[T]) error {
			item, err, ok := s.next()
			if !ok {
				s.live = false
				return nil
			}
			if err != nil {
				s.live = false
				return err
			}
			s.head, s.live = item, true
			return nil
		}

		for _, seq := range seqs {
			next, stop := iter.Pull2(seq)
			stops = append(stops, stop)
			s := &mergeSource[T]{next: next}
			if err := advance(s); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			sources = append(sources, s)
		}

		for {
			var lowest *mergeSource[T]
			for _, s := range sources {
				if s.live && (lowest == nil || cmp(s.head, lowest.head) < 0) {
					lowest = s
				}
			}
			if lowest == nil {
				return
			}
			if !yield(lowest.head, nil) {
				return
			}
			if err := advance(lowest); err != nil {
				var zero T
				yield(zero, err)
				return
			}
		}
	}
}
