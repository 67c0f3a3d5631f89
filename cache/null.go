package cache

import "context"

// NullTier is the durable tier used when none is configured. It never holds
// anything and never fails.
type NullTier struct{}

var _ Tier = NullTier{}

func (NullTier) Name() string { return "none" }

func (NullTier) Get(context.Context, string) (Record, bool, error) { return Record{}, false, nil }

func (NullTier) Set(context.Context, string, Record, int) error { return nil }

func (NullTier) Delete(context.Context, string) error { return nil }

func (NullTier) Clear(context.Context) error { return nil }

func (NullTier) Ping(context.Context) error { return nil }

func (NullTier) Close() error { return nil }
