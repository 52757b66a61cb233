package seeder

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
)

var regions = []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-2"}

// Generator produces synthetic metric series. A fixed seed yields the same
// series every time.
type Generator struct {
	faker *gofakeit.Faker
}

func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{faker: gofakeit.New(seed)}
}

// Series returns count measurements for m spread evenly over spread and
// ending at now, with each degradation applied in turn.
func (g *Generator) Series(m MetricConfig, count int, spread time.Duration, now time.Time, degradations []DegradationConfig) []client.Measurement {
	out := make([]client.Measurement, count)
	region := g.faker.RandomString(regions)

	var step time.Duration
	if count > 1 {
		step = spread / time.Duration(count-1)
	}
	start := now.Add(-spread)

	for i := range out {
		v := m.Baseline + g.faker.Rand.NormFloat64()*m.Jitter
		for _, d := range degradations {
			if d.Metric == m.Name {
				v += offset(d, i, count)
			}
		}
		if m.NonNegative && v < 0 {
			v = 0
		}

		tags := map[string]string{"source": "seeder", "region": region}
		for k, val := range m.Tags {
			tags[k] = val
		}

		out[i] = client.Measurement{
			MetricName: m.Name,
			Value:      v,
			Timestamp:  start.Add(time.Duration(i) * step),
			Tags:       tags,
		}
	}
	return out
}

// offset is the shift degradation d adds to point i of count.
func offset(d DegradationConfig, i, count int) float64 {
	first := int(d.Start * float64(count))
	if i < first {
		return 0
	}
	switch d.Kind {
	case KindSpike:
		if i < first+d.Length {
			return d.Magnitude
		}
	case KindStep:
		return d.Magnitude
	case KindDrift:
		span := count - 1 - first
		if span <= 0 {
			return d.Magnitude
		}
		return d.Magnitude * float64(i-first) / float64(span)
	}
	return 0
}
