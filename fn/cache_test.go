package fn

import (
	"bytes"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/redplanetlabs/frost"
)

func TestCodecReuse(t *testing.T) {
	ClearCache()
	start := cache.builds.Load()

	f := makeAdder(1)
	g := makeAdder(2)
	data := mustFreeze(t, f)
	mustFreeze(t, g)
	if n := cache.builds.Load() - start; n != 1 {
		t.Errorf("closures over one symbol share an encode codec: want=1 build got=%d", n)
	}

	mustThaw(t, data)
	mustThaw(t, data)
	if n := cache.builds.Load() - start; n != 2 {
		t.Errorf("wrong build count after thawing twice: want=2 got=%d", n)
	}
}

func TestClearCacheRebuilds(t *testing.T) {
	f := makeAdder(4)
	data := mustFreeze(t, f)

	ClearCache()
	start := cache.builds.Load()
	mustFreeze(t, f)
	mustThaw(t, data)
	if n := cache.builds.Load() - start; n != 2 {
		t.Errorf("wrong build count after a cache clear: want=2 got=%d", n)
	}
}

func TestFailedBuildsAreNotCached(t *testing.T) {
	f := makeOpaque(1)
	start := cache.builds.Load()

	if _, err := frost.Freeze(f); err == nil {
		t.Fatal("freezing an unregistered closure did not fail")
	}
	if _, err := frost.Freeze(f); err == nil {
		t.Fatal("freezing an unregistered closure did not fail")
	}
	if n := cache.builds.Load() - start; n != 0 {
		t.Errorf("failed builds must not be cached: want=0 got=%d", n)
	}
}

func TestConcurrentFreezeThaw(t *testing.T) {
	ClearCache()
	start := cache.builds.Load()

	f := makeAdder(10)
	want := mustFreeze(t, f)

	var group errgroup.Group
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			for j := 0; j < 50; j++ {
				data, err := frost.Freeze(f)
				if err != nil {
					return err
				}
				if !bytes.Equal(data, want) {
					return fmt.Errorf("concurrent freeze produced different bytes")
				}
				v, err := frost.Thaw(data)
				if err != nil {
					return err
				}
				if got := v.(func(int) int)(j); got != j+10 {
					return fmt.Errorf("wrong value from thawed closure: want=%d got=%d", j+10, got)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := cache.builds.Load() - start; n != 2 {
		t.Errorf("concurrent first use built duplicate codecs: want=2 got=%d", n)
	}
}

//go:noinline
func makeOpaque(k int) func() int {
	return func() int { return k * 2 }
}
