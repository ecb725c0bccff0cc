// Package huge parses the HUGE extension area that follows the search string
// in a query and the file name in a query reply result.
//
// The area is a run of tokens separated by 0x1C and ended by 0x00. A token is
// either a GGEP block, a URN, a URN type ("urn:sha1:") or free text such as
// an XML rich query.
package huge

import (
	"strings"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

var log = logger.GetLogger()

const (
	DELIMITER  = 0x1C
	TERMINATOR = 0x00
)

// Block is one GGEP block found in the area. Start and End are offsets into
// the parsed bytes, End exclusive.
type Block struct {
	GGEP  *ggep.GGEP
	Start int
	End   int
}

// Extension is the parsed content of a HUGE area.
type Extension struct {
	// GGEP holds every key of every block, later blocks winning. Nil when no
	// block parsed.
	GGEP     *ggep.GGEP
	Blocks   []Block
	URNs     *urn.Set
	URNTypes []urn.Type
	Misc     []string
}

// Parse tokenizes data up to the first 0x00 or the end of the slice. Tokens
// that do not parse are skipped.
func Parse(data []byte) *Extension {
	e := &Extension{URNs: urn.NewSet()}
	for i := 0; i < len(data) && data[i] != TERMINATOR; {
		if data[i] == DELIMITER {
			i++
			continue
		}
		if data[i] == ggep.MAGIC {
			g, n, err := ggep.Parse(data, i)
			if err == nil {
				e.Blocks = append(e.Blocks, Block{GGEP: g, Start: i, End: i + n})
				if e.GGEP == nil {
					e.GGEP = ggep.New()
				}
				e.GGEP.Merge(g)
				i += n
				if i < len(data) && data[i] == DELIMITER {
					i++
				}
				continue
			}
			log.WithFields(logger.Fields{
				"at":     "huge.Parse",
				"offset": i,
			}).WithError(err).Debug("skipping_bad_ggep")
			i++
			continue
		}
		end := i
		for end < len(data) && data[end] != DELIMITER && data[end] != TERMINATOR {
			end++
		}
		e.classify(string(data[i:end]))
		i = end
	}
	return e
}

func (e *Extension) classify(token string) {
	if token == "" {
		return
	}
	if t, ok := urn.ParseType(token); ok {
		e.URNTypes = append(e.URNTypes, t)
		return
	}
	if len(token) >= len(urn.NAMESPACE) && strings.EqualFold(token[:len(urn.NAMESPACE)], urn.NAMESPACE) {
		u, err := urn.Parse(token)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "huge.classify",
				"token": token,
			}).Debug("skipping_bad_urn")
			return
		}
		e.URNs.Add(u)
		return
	}
	e.Misc = append(e.Misc, token)
}

// RichQuery returns the first free-text token that is an XML document.
func (e *Extension) RichQuery() string {
	for _, m := range e.Misc {
		if strings.HasPrefix(m, "<?xml") {
			return m
		}
	}
	return ""
}

// LastBlock returns the block that appears last in the area.
func (e *Extension) LastBlock() (Block, bool) {
	if len(e.Blocks) == 0 {
		return Block{}, false
	}
	return e.Blocks[len(e.Blocks)-1], true
}
