package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// messageSummary is the YAML view of a message.
type messageSummary struct {
	Function string `yaml:"function"`
	GUID     string `yaml:"guid"`
	TTL      int    `yaml:"ttl"`
	Hops     int    `yaml:"hops"`
	Length   int    `yaml:"length"`

	Ping  *pingSummary  `yaml:"ping,omitempty"`
	Pong  *pongSummary  `yaml:"pong,omitempty"`
	Push  *pushSummary  `yaml:"push,omitempty"`
	Query *querySummary `yaml:"query,omitempty"`
	Reply *replySummary `yaml:"reply,omitempty"`
}

type pingSummary struct {
	Heartbeat        bool     `yaml:"heartbeat"`
	Locale           string   `yaml:"locale,omitempty"`
	RequestsQueryKey bool     `yaml:"requests_query_key,omitempty"`
	Extensions       []string `yaml:"extensions,omitempty"`
}

type pongSummary struct {
	Address     string   `yaml:"address"`
	Files       int64    `yaml:"files"`
	KB          int64    `yaml:"kb"`
	Ultrapeer   bool     `yaml:"ultrapeer"`
	DailyUptime int      `yaml:"daily_uptime,omitempty"`
	Locale      string   `yaml:"locale,omitempty"`
	TLS         bool     `yaml:"tls,omitempty"`
	Hosts       []string `yaml:"hosts,omitempty"`
}

type pushSummary struct {
	ClientGUID string `yaml:"client_guid"`
	Index      int64  `yaml:"index"`
	Address    string `yaml:"address"`
	TLS        bool   `yaml:"tls,omitempty"`
}

type querySummary struct {
	Query      string   `yaml:"query"`
	RichQuery  string   `yaml:"rich_query,omitempty"`
	URNs       []string `yaml:"urns,omitempty"`
	MinSpeed   int      `yaml:"min_speed"`
	Firewalled bool     `yaml:"firewalled,omitempty"`
	OOB        bool     `yaml:"oob,omitempty"`
	MetaMask   int      `yaml:"meta_mask,omitempty"`
}

type replySummary struct {
	Address    string            `yaml:"address"`
	Speed      int64             `yaml:"speed"`
	ClientGUID string            `yaml:"client_guid"`
	Vendor     string            `yaml:"vendor,omitempty"`
	Push       string            `yaml:"push"`
	Busy       string            `yaml:"busy"`
	Results    []responseSummary `yaml:"results,omitempty"`
	Error      string            `yaml:"error,omitempty"`
}

type responseSummary struct {
	Index int64    `yaml:"index"`
	Size  int64    `yaml:"size"`
	Name  string   `yaml:"name"`
	URNs  []string `yaml:"urns,omitempty"`
}

func urnStrings(s *urn.Set) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, u := range s.Slice() {
		out = append(out, u.String())
	}
	return out
}

func keysOf(g *ggep.GGEP) []string {
	if g == nil {
		return nil
	}
	return g.Keys()
}

func summarize(m messages.Message) messageSummary {
	s := messageSummary{
		Function: messages.FunctionName(m.Function()),
		GUID:     m.GUID().String(),
		TTL:      m.TTL(),
		Hops:     m.Hops(),
		Length:   m.Length(),
	}
	switch v := m.(type) {
	case *messages.Ping:
		s.Ping = &pingSummary{
			Heartbeat:        v.IsHeartbeat(),
			Locale:           v.Locale(),
			RequestsQueryKey: v.RequestsQueryKey(),
			Extensions:       keysOf(v.GGEP()),
		}
	case *messages.Pong:
		ps := &pongSummary{
			Address:     v.Endpoint().String(),
			Files:       v.Files(),
			KB:          v.KB(),
			Ultrapeer:   v.IsUltrapeer(),
			DailyUptime: v.DailyUptime(),
			Locale:      v.Locale(),
			TLS:         v.IsTLSCapable(),
		}
		for _, h := range v.Hosts() {
			ps.Hosts = append(ps.Hosts, h.String())
		}
		s.Pong = ps
	case *messages.Push:
		s.Push = &pushSummary{
			ClientGUID: v.ClientGUID().String(),
			Index:      v.Index(),
			Address:    v.Endpoint().String(),
			TLS:        v.IsTLSCapable(),
		}
	case *messages.Query:
		s.Query = &querySummary{
			Query:      v.Query(),
			RichQuery:  v.RichQuery(),
			URNs:       urnStrings(v.URNs()),
			MinSpeed:   v.MinSpeed(),
			Firewalled: v.IsFirewalledSource(),
			OOB:        v.DesiresOutOfBandReplies(),
			MetaMask:   v.MetaMask(),
		}
	case *messages.QueryReply:
		rs := &replySummary{
			Address:    v.Endpoint().String(),
			Speed:      v.Speed(),
			ClientGUID: v.ClientGUID().String(),
			Vendor:     v.Vendor(),
			Push:       v.PushFlag().String(),
			Busy:       v.BusyFlag().String(),
		}
		results, err := v.Results()
		if err != nil {
			rs.Error = err.Error()
		}
		for _, r := range results {
			rs.Results = append(rs.Results, responseSummary{
				Index: r.Index,
				Size:  r.Size,
				Name:  r.Name,
				URNs:  urnStrings(r.URNs),
			})
		}
		s.Reply = rs
	}
	return s
}

// writeMessage prints m as a YAML document, or as a spew dump when dump is
// set.
func writeMessage(w io.Writer, m messages.Message, dump bool) error {
	if dump {
		spew.Fdump(w, m)
		return nil
	}
	out, err := yaml.Marshal(summarize(m))
	if err != nil {
		return oops.Wrapf(err, "rendering %s", messages.FunctionName(m.Function()))
	}
	if _, err := fmt.Fprintf(w, "---\n%s", out); err != nil {
		return oops.Wrapf(err, "writing output")
	}
	return nil
}

func writeLabel(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label+":"), value)
}
