package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyResponse(t *testing.T) {
	t.Parallel()

	cases := map[int]Bucket{
		100: Bucket1xx,
		199: Bucket1xx,
		200: Bucket2xx,
		204: Bucket2xx,
		301: Bucket3xx,
		404: Bucket4xx,
		503: Bucket5xx,
		599: Bucket5xx,
		0:   BucketUnknown,
		600: BucketUnknown,
		99:  BucketUnknown,
		-1:  BucketUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, ClassifyResponse(code), "code %d", code)
	}
}

// Every code maps to exactly one bucket; the bucket set partitions the space.
func TestClassifyResponseIsTotal(t *testing.T) {
	t.Parallel()

	for code := -10; code < 700; code++ {
		b := ClassifyResponse(code)
		assert.Contains(t, Buckets, b)
	}
}

func TestBucketFields(t *testing.T) {
	t.Parallel()

	want := []string{"r1xx", "r2xx", "r3xx", "r4xx", "r5xx", "runk"}
	for i, b := range Buckets {
		assert.Equal(t, want[i], b.Field())
	}
}
