package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newBuildCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Construct a message and print it as hex",
	}
	cmd.AddCommand(
		newBuildPingCommand(root),
		newBuildPongCommand(root),
		newBuildPushCommand(root),
		newBuildQueryCommand(root),
		newBuildReplyCommand(root),
	)
	return cmd
}

// writeHex prints each message on its own line.
func writeHex(w io.Writer, msgs ...messages.Message) error {
	for _, m := range msgs {
		b, err := m.MarshalBinary()
		if err != nil {
			return oops.Wrapf(err, "encoding %s", messages.FunctionName(m.Function()))
		}
		if _, err := fmt.Fprintln(w, hex.EncodeToString(b)); err != nil {
			return oops.Wrapf(err, "writing output")
		}
	}
	return nil
}

func parseAddrPort(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return ap, oops.Wrapf(err, "address %q", s)
	}
	return ap, nil
}

func newBuildPingCommand(root *rootOptions) *cobra.Command {
	var ttl int
	var opts messages.PingOptions
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Build a ping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := root.settings()
			if err != nil {
				return err
			}
			p, err := messages.NewPingWithOptions(s, guid.New(), ttl, opts)
			if err != nil {
				return err
			}
			return writeHex(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 1, "time to live")
	cmd.Flags().StringVar(&opts.Locale, "locale", "", "advertise this locale")
	cmd.Flags().BoolVar(&opts.CachedPongs, "cached-pongs", false, "ask for cached pongs")
	cmd.Flags().BoolVar(&opts.Ultrapeer, "ultrapeer", false, "mark the sender as an ultrapeer")
	cmd.Flags().BoolVar(&opts.RequestIP, "request-ip", false, "ask the receiver to echo our address")
	cmd.Flags().BoolVar(&opts.RequestQueryKey, "query-key", false, "ask for a query key")
	cmd.Flags().BoolVar(&opts.RequestDHTIPP, "dht-hosts", false, "ask for DHT hosts")
	return cmd
}

func newBuildPongCommand(root *rootOptions) *cobra.Command {
	p := messages.DefaultPongParams()
	var address string
	cmd := &cobra.Command{
		Use:   "pong",
		Short: "Build a pong",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := root.settings()
			if err != nil {
				return err
			}
			ap, err := parseAddrPort(address)
			if err != nil {
				return err
			}
			p.Addr, p.Port = ap.Addr(), int(ap.Port())
			pong, err := messages.NewPong(s, p)
			if err != nil {
				return err
			}
			return writeHex(cmd.OutOrStdout(), pong)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "ip:port advertised in the pong")
	cmd.Flags().IntVar(&p.TTL, "ttl", p.TTL, "time to live")
	cmd.Flags().Int64Var(&p.Files, "files", 0, "shared file count")
	cmd.Flags().Int64Var(&p.KB, "kb", 0, "shared kilobytes")
	cmd.Flags().BoolVar(&p.Ultrapeer, "ultrapeer", false, "mark as an ultrapeer")
	cmd.Flags().IntVar(&p.DailyUptime, "uptime", p.DailyUptime, "average daily uptime in seconds")
	cmd.Flags().StringVar(&p.Locale, "locale", "", "advertised locale")
	cmd.Flags().BoolVar(&p.TLS, "tls", false, "advertise TLS support")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newBuildPushCommand(root *rootOptions) *cobra.Command {
	var (
		ttl        int
		clientGUID string
		index      int64
		address    string
		tls        bool
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Build a push request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := root.settings()
			if err != nil {
				return err
			}
			cg, err := guid.ParseHex(clientGUID)
			if err != nil {
				return oops.Wrapf(err, "client guid")
			}
			ap, err := parseAddrPort(address)
			if err != nil {
				return err
			}
			ep := netutil.NewEndpoint(ap)
			ep.TLS = tls
			p, err := messages.NewPush(s, guid.New(), ttl, cg, index, ep, messages.NETWORK_TCP)
			if err != nil {
				return err
			}
			return writeHex(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 3, "time to live")
	cmd.Flags().StringVar(&clientGUID, "client-guid", "", "servent id of the firewalled host, in hex")
	cmd.Flags().Int64Var(&index, "index", 0, "file index")
	cmd.Flags().StringVar(&address, "address", "", "ip:port the firewalled host should connect to")
	cmd.Flags().BoolVar(&tls, "tls", false, "accept TLS connections")
	_ = cmd.MarkFlagRequired("client-guid")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newBuildQueryCommand(root *rootOptions) *cobra.Command {
	var (
		p     messages.QueryParams
		urns  []string
		reply string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Build a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := root.settings()
			if err != nil {
				return err
			}
			for _, u := range urns {
				parsed, err := urn.Parse(u)
				if err != nil {
					return err
				}
				p.URNs = append(p.URNs, parsed)
			}
			p.GUID = messages.NewQueryGUID(false)
			if reply != "" {
				ap, err := parseAddrPort(reply)
				if err != nil {
					return err
				}
				if p.GUID, err = guid.AddressEncode(p.GUID, ap); err != nil {
					return err
				}
				p.CanReceiveOOB = true
			}
			p.Network = messages.NETWORK_TCP
			if p.TTL == 0 {
				p.TTL = cfg.Message.SoftMax
			}
			q, err := messages.NewQuery(s, p)
			if err != nil {
				return err
			}
			return writeHex(cmd.OutOrStdout(), q)
		},
	}
	cmd.Flags().IntVar(&p.TTL, "ttl", 0, "time to live (default message.soft_max)")
	cmd.Flags().StringVar(&p.Query, "query", "", "keywords")
	cmd.Flags().StringVar(&p.RichQuery, "xml", "", "rich query document")
	cmd.Flags().StringArrayVar(&urns, "urn", nil, "search by URN; repeatable")
	cmd.Flags().BoolVar(&p.Firewalled, "firewalled", false, "mark the sender as firewalled")
	cmd.Flags().BoolVar(&p.CanDoFWT, "fwt", false, "sender can do firewall-to-firewall transfers")
	cmd.Flags().StringVar(&reply, "oob", "", "ip:port for out of band replies")
	cmd.Flags().IntVar(&p.MetaMask, "meta", 0, "meta type mask")
	cmd.Flags().BoolVar(&p.Normalize, "normalize", true, "normalize the keywords")
	return cmd
}

// parseResult reads "name,size[,urn]". The name may itself contain commas.
func parseResult(index int64, v string) (*messages.Response, error) {
	parts := strings.Split(v, ",")
	var urns []urn.URN
	if len(parts) > 2 && urn.IsURN(parts[len(parts)-1]) {
		u, err := urn.Parse(parts[len(parts)-1])
		if err != nil {
			return nil, err
		}
		urns = append(urns, u)
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 2 {
		return nil, oops.Errorf("result %q: want name,size[,urn]", v)
	}
	size, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return nil, oops.Wrapf(err, "result %q size", v)
	}
	return messages.NewResponse(index, size, strings.Join(parts[:len(parts)-1], ","), urns...)
}

func newBuildReplyCommand(root *rootOptions) *cobra.Command {
	var (
		p        messages.ReplyParams
		queryID  string
		address  string
		results  []string
		signKey  string
		perReply int
	)
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Build the query replies answering a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := root.settings()
			if err != nil {
				return err
			}
			p.GUID = guid.New()
			if queryID != "" {
				if p.GUID, err = guid.ParseHex(queryID); err != nil {
					return oops.Wrapf(err, "query guid")
				}
			}
			ap, err := parseAddrPort(address)
			if err != nil {
				return err
			}
			p.Addr, p.Port = ap.Addr(), int(ap.Port())
			p.ClientGUID = guid.New()
			p.IncludeQHD = true
			if signKey != "" {
				key, err := hex.DecodeString(signKey)
				if err != nil {
					return oops.Wrapf(err, "signing key")
				}
				if p.Signer, err = security.NewBlake2bSigner(key); err != nil {
					return err
				}
			}
			var responses []*messages.Response
			for i, v := range results {
				r, err := parseResult(int64(i), v)
				if err != nil {
					return err
				}
				responses = append(responses, r)
			}
			if len(responses) == 0 {
				return oops.Errorf("at least one --result is required")
			}
			replies, err := messages.NewQueryReplies(s, p, responses, perReply)
			if err != nil {
				return err
			}
			msgs := make([]messages.Message, len(replies))
			for i, qr := range replies {
				msgs[i] = qr
			}
			return writeHex(cmd.OutOrStdout(), msgs...)
		},
	}
	cmd.Flags().StringVar(&queryID, "query-guid", "", "guid of the query being answered, in hex")
	cmd.Flags().IntVar(&p.TTL, "ttl", 3, "time to live")
	cmd.Flags().StringVar(&address, "address", "", "ip:port of the responding host")
	cmd.Flags().Int64Var(&p.Speed, "speed", 0, "upload speed in kbit/s")
	cmd.Flags().StringArrayVar(&results, "result", nil, "name,size[,urn]; repeatable")
	cmd.Flags().BoolVar(&p.NeedsPush, "push", false, "host is firewalled")
	cmd.Flags().BoolVar(&p.Busy, "busy", false, "all upload slots are taken")
	cmd.Flags().BoolVar(&p.SupportsBrowseHost, "browse-host", false, "host accepts browse requests")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "hex key used to sign the descriptor")
	cmd.Flags().IntVar(&perReply, "per-reply", 0, "results per reply (default reply.per_reply)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
