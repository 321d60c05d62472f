package main

import (
	"bytes"
	"errors"
	"testing"

	"tagrelay/internal/protocol"
)

func TestWriteReport(t *testing.T) {
	cases := []struct {
		name   string
		report protocol.Report
		want   string
	}{
		{
			name: "resolved",
			report: protocol.Report{
				Index:     1,
				Tag:       "09150003",
				Domain:    "www.abc.com",
				Address:   "192.168.1.4",
				EchoedTag: "09150003",
			},
			want: "Query 1:\n" +
				"  Custom header value (HHMMSSID): 09150003\n" +
				"  Domain name: www.abc.com\n" +
				"  Resolved IP address: 192.168.1.4\n",
		},
		{
			name: "short reply shows echoed bytes",
			report: protocol.Report{
				Index:     2,
				Tag:       "0915",
				Domain:    protocol.Unknown,
				EchoedTag: "0915",
				Err:       protocol.ErrShortReply,
			},
			want: "Query 2:\n" +
				"  Custom header value (HHMMSSID): 0915\n" +
				"  Domain name: Unknown\n" +
				"  Resolved IP address: 0915\n",
		},
		{
			name: "transport failure leaves the field empty",
			report: protocol.Report{
				Index:  3,
				Tag:    "09150004",
				Domain: "www.abc.com",
				Err:    errors.New("connection refused"),
			},
			want: "Query 3:\n" +
				"  Custom header value (HHMMSSID): 09150004\n" +
				"  Domain name: www.abc.com\n" +
				"  Resolved IP address: \n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeReport(&buf, tc.report)

			if buf.String() != tc.want {
				t.Fatalf("unexpected report:\n%s\nwant:\n%s", buf.String(), tc.want)
			}
		})
	}
}
