package job

// Bucket is one of six mutually exclusive classifications of an HTTP
// response code.
type Bucket int

// Response buckets, in ascending code order. BucketUnknown collects
// everything outside [100,600), including absent or zero codes.
const (
	Bucket1xx Bucket = iota
	Bucket2xx
	Bucket3xx
	Bucket4xx
	Bucket5xx
	BucketUnknown
)

// Buckets lists every bucket in classification order.
var Buckets = []Bucket{Bucket1xx, Bucket2xx, Bucket3xx, Bucket4xx, Bucket5xx, BucketUnknown}

// ClassifyResponse maps a response code to exactly one bucket.
func ClassifyResponse(code int) Bucket {
	switch {
	case code >= 100 && code < 200:
		return Bucket1xx
	case code >= 200 && code < 300:
		return Bucket2xx
	case code >= 300 && code < 400:
		return Bucket3xx
	case code >= 400 && code < 500:
		return Bucket4xx
	case code >= 500 && code < 600:
		return Bucket5xx
	default:
		return BucketUnknown
	}
}

// Field returns the job-record field holding the bucket's counter.
func (b Bucket) Field() string {
	switch b {
	case Bucket1xx:
		return FieldResponses1xx
	case Bucket2xx:
		return FieldResponses2xx
	case Bucket3xx:
		return FieldResponses3xx
	case Bucket4xx:
		return FieldResponses4xx
	case Bucket5xx:
		return FieldResponses5xx
	default:
		return FieldResponsesUnknown
	}
}

func (b Bucket) String() string {
	return b.Field()
}
