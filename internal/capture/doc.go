// Package capture reads DNS query packets out of pcap files, tags them with their capture time and
// sequence id, and reads tagged captures back as relay frames.
package capture
