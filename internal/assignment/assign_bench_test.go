package assignment

import (
	"fmt"
	"math/rand"
	"testing"
)

func BenchmarkAssign(b *testing.B) {
	for _, n := range []int{5, 11, 50, 200} {
		r := rand.New(rand.NewSource(int64(n)))
		agents := randomPoints(r, n)
		targets := randomPoints(r, n)
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Assign(agents, targets); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAssignParallel(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	agents := randomPoints(r, 11)
	targets := randomPoints(r, 11)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := Assign(agents, targets); err != nil {
				b.Fatal(err)
			}
		}
	})
}
