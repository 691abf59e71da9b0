package weather

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ridgeline-obs/obsd/devlink"
)

type fixedLink struct {
	resp devlink.Response
}

func (l *fixedLink) Send(ctx context.Context, cmd string, args ...string) (devlink.Response, error) {
	return l.resp, nil
}

func TestSample(t *testing.T) {
	for _, test := range []struct {
		name    string
		payload string
		want    Sample
		wantErr bool
	}{
		{
			name:    "clear night",
			payload: "wind=3.2 hum=54 ambient=12.5 sky=-18.0 rain=0",
			want:    Sample{WindMps: 3.2, HumidityPct: 54, AmbientC: 12.5, SkyC: -18},
		},
		{
			name:    "raining",
			payload: "wind=8.0 hum=97 ambient=9.0 sky=7.5 rain=1",
			want:    Sample{WindMps: 8, HumidityPct: 97, AmbientC: 9, SkyC: 7.5, Raining: true},
		},
		{
			name:    "missing field",
			payload: "wind=3.2 hum=54 ambient=12.5",
			wantErr: true,
		},
		{
			name:    "garbled value",
			payload: "wind=?? hum=54 ambient=12.5 sky=-18.0 rain=0",
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := New(&fixedLink{resp: devlink.Response{Status: "ok", Payload: test.payload}})
			got, err := c.Sample(context.Background())
			if (err != nil) != test.wantErr {
				t.Fatalf("sample: err %v, wantErr %t", err, test.wantErr)
			}
			if diff := cmp.Diff(got, test.want, cmpopts.IgnoreFields(Sample{}, "At")); diff != "" {
				t.Errorf("unexpected sample: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestSampleDeviceRefusal(t *testing.T) {
	c := New(&fixedLink{resp: devlink.Response{Status: "err", Payload: "sensor fault"}})
	if _, err := c.Sample(context.Background()); err == nil {
		t.Fatal("sample accepted an err reply")
	}
}
