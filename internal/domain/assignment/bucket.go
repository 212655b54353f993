package assignment

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/tripwire/internal/domain/model"
)

// Buckets is the number of buckets weights are expressed over.
const Buckets = 100

// Bucket maps a seed and experiment to [0, Buckets). Different experiments
// get independent buckets for the same seed.
func Bucket(seed uint64, experimentID string) int {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seed)
	d := xxhash.New()
	_, _ = d.Write(b[:])
	_, _ = d.WriteString(experimentID)
	return int(d.Sum64() % Buckets)
}

// ChooseVariant walks cumulative weights and returns the index of the variant
// whose range contains bucket. covered is false when the weights did not
// reach the bucket and a fallback was picked: the first treatment, else the
// first variant. When every weight is zero the pick is spread by bucket.
func ChooseVariant(bucket int, variants []model.VariantOption) (index int, covered bool, err error) {
	switch len(variants) {
	case 0:
		return 0, false, ErrNoVariants
	case 1:
		return 0, true, nil
	}

	total := 0
	for i, v := range variants {
		if v.WeightPercent <= 0 {
			continue
		}
		total += v.WeightPercent
		if bucket < total {
			return i, true, nil
		}
	}
	if total == 0 {
		return bucket % len(variants), true, nil
	}
	return fallback(variants), false, nil
}

func fallback(variants []model.VariantOption) int {
	for i, v := range variants {
		if v.Type == model.VariantTreatment {
			return i
		}
	}
	return 0
}
