package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"tagrelay/internal/protocol"
)

// snapshotLength is the snapshot length written to the header of tagged captures.
const snapshotLength = 65536

// Packet is a single captured frame and its capture metadata.
type Packet struct {
	Info gopacket.CaptureInfo
	Data []byte
}

// Query is a captured packet carrying a DNS message with at least one question.
type Query struct {
	Packet
	// Name is the first question's name.
	Name string
	// Summary is a one-line description of the packet's layers.
	Summary string
}

// Tagged is a query whose frame has been prefixed with its tag.
type Tagged struct {
	Packet
	Tag   protocol.Tag
	Query Query
}

// Tagger assigns tags to captured queries.
type Tagger struct {
	// Location is the time zone capture timestamps are rendered in. Nil selects local time.
	Location *time.Location
}

// ReadQueries reads a pcap stream and returns every packet that decodes to a DNS message with at
// least one question, in capture order, along with the stream's link type.
func ReadQueries(r io.Reader) ([]Query, layers.LinkType, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("capture: error opening pcap stream: %w", err)
	}

	linkType := reader.LinkType()

	var queries []Query

	for {
		data, info, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, linkType, fmt.Errorf("capture: error reading packet: idx=%d: %w", len(queries), err)
		}

		pkt := gopacket.NewPacket(data, linkType, gopacket.Default)

		dnsLayer, ok := pkt.Layer(layers.LayerTypeDNS).(*layers.DNS)
		if !ok || len(dnsLayer.Questions) == 0 {
			continue
		}

		queries = append(queries, Query{
			Packet:  Packet{Info: info, Data: data},
			Name:    string(dnsLayer.Questions[0].Name),
			Summary: summarize(pkt, dnsLayer),
		})
	}

	return queries, linkType, nil
}

// Tag assigns sequence ids from 0 in order and prefixes each query's frame with the tag derived
// from its capture timestamp. Capture and wire lengths grow by the tag size.
func (t *Tagger) Tag(queries []Query) []Tagged {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}

	tagged := make([]Tagged, 0, len(queries))

	for id, query := range queries {
		tag := protocol.TagFromTime(query.Info.Timestamp.In(loc), id)
		data := protocol.NewFrame(tag, query.Data).Bytes()

		info := query.Info
		info.CaptureLength = len(data)
		info.Length = query.Info.Length + protocol.TagSize

		tagged = append(tagged, Tagged{
			Packet: Packet{Info: info, Data: data},
			Tag:    tag,
			Query:  query,
		})
	}

	return tagged
}

// Summary describes a tagged packet on one line.
func (t Tagged) Summary() string {
	return fmt.Sprintf("Tag %s / %s", t.Tag, t.Query.Summary)
}

// WritePackets writes a pcap stream containing the given packets.
func WritePackets(w io.Writer, linkType layers.LinkType, pkts []Packet) error {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapshotLength, linkType); err != nil {
		return fmt.Errorf("capture: error writing pcap header: %w", err)
	}

	for idx, pkt := range pkts {
		if err := writer.WritePacket(pkt.Info, pkt.Data); err != nil {
			return fmt.Errorf("capture: error writing packet: idx=%d: %w", idx, err)
		}
	}

	return nil
}

// ReadFrames reads every packet of a tagged pcap stream as a relay frame. Packets are taken as raw
// bytes; nothing past the tag is decoded.
func ReadFrames(r io.Reader) ([]protocol.Frame, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: error opening pcap stream: %w", err)
	}

	var frames []protocol.Frame

	for {
		data, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}

		if err != nil {
			return nil, fmt.Errorf("capture: error reading packet: idx=%d: %w", len(frames), err)
		}

		frames = append(frames, protocol.SplitFrame(data))
	}
}

func summarize(pkt gopacket.Packet, dnsLayer *layers.DNS) string {
	var names []string
	for _, layer := range pkt.Layers() {
		names = append(names, layer.LayerType().String())
	}

	summary := strings.Join(names, " / ")

	if flow := pkt.NetworkLayer(); flow != nil {
		summary = fmt.Sprintf("%s %s", summary, flow.NetworkFlow())
	}

	return fmt.Sprintf("%s Qry %s", summary, dnsLayer.Questions[0].Name)
}
