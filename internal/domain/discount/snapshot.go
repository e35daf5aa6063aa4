package discount

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// Snapshot is the minimal durable state of a Set needed to resume an order
// session: the applied entries, the code map, and the removed set. The
// session-persistence collaborator stores it between requests.
type Snapshot struct {
	Applied []Entry
	Codes   map[string]string
	Removed []string
}

// Snapshot captures the Set's durable state. Entries are deep-copied, so the
// snapshot stays valid across later calculation passes.
func (s *Set) Snapshot() Snapshot {
	snap := Snapshot{
		Applied: make([]Entry, 0, len(s.applied)),
		Codes:   make(map[string]string, len(s.codes)),
		Removed: make([]string, 0, len(s.removed)),
	}

	for _, e := range s.Entries() {
		copied := *e
		copied.Items = make(map[string]ItemDiscount, len(e.Items))
		for fp, d := range e.Items {
			copied.Items[fp] = d
		}
		snap.Applied = append(snap.Applied, copied)
	}
	for code, id := range s.codes {
		snap.Codes[code] = id
	}
	for id := range s.removed {
		snap.Removed = append(snap.Removed, id)
	}
	sort.Strings(snap.Removed)

	return snap
}

// Restore replaces the Set's durable state with the snapshot's. Any in-flight
// code request and collected messages are discarded.
func (s *Set) Restore(snap Snapshot) {
	s.applied = make(map[string]*Entry, len(snap.Applied))
	s.codes = make(map[string]string, len(snap.Codes))
	s.removed = make(map[string]struct{}, len(snap.Removed))
	s.codeRequest = ""
	s.messages = nil

	for i := range snap.Applied {
		e := snap.Applied[i]
		items := make(map[string]ItemDiscount, len(e.Items))
		for fp, d := range e.Items {
			items[fp] = d
		}
		e.Items = items
		s.applied[e.PromotionID] = &e
	}
	for code, id := range snap.Codes {
		s.codes[code] = id
	}
	for _, id := range snap.Removed {
		s.removed[id] = struct{}{}
	}
}

// Encode writes the snapshot as a JSON object.
func (s Snapshot) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("applied", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range s.Applied {
					encodeEntry(e, &s.Applied[i])
				}
			})
		})
		e.Field("codes", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, code := range sortedKeys(s.Codes) {
					e.Field(code, func(e *jx.Encoder) { e.Str(s.Codes[code]) })
				}
			})
		})
		e.Field("removed", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range s.Removed {
					e.Str(id)
				}
			})
		})
	})
}

// MarshalJSON implements json.Marshaler via the jx encoder.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	s.Encode(&e)
	return e.Bytes(), nil
}

// Decode reads a snapshot object previously written by Encode.
func (s *Snapshot) Decode(d *jx.Decoder) error {
	*s = Snapshot{Codes: make(map[string]string)}
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "applied":
			return d.Arr(func(d *jx.Decoder) error {
				entry, err := decodeEntry(d)
				if err != nil {
					return err
				}
				s.Applied = append(s.Applied, entry)
				return nil
			})
		case "codes":
			return d.Obj(func(d *jx.Decoder, code string) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				s.Codes[code] = id
				return nil
			})
		case "removed":
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				s.Removed = append(s.Removed, id)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// UnmarshalJSON implements json.Unmarshaler via the jx decoder.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	return s.Decode(jx.DecodeBytes(data))
}

func encodeEntry(e *jx.Encoder, entry *Entry) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("promotion_id", func(e *jx.Encoder) { e.Str(entry.PromotionID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(entry.Name) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(entry.Type)) })
		e.Field("target", func(e *jx.Encoder) { e.Str(string(entry.Target)) })
		if entry.Code != "" {
			e.Field("code", func(e *jx.Encoder) { e.Str(entry.Code) })
		}
		e.Field("value", func(e *jx.Encoder) { e.Str(entry.Value.String()) })
		if entry.BuyQuantity != 0 || entry.GetQuantity != 0 {
			e.Field("buy_quantity", func(e *jx.Encoder) { e.Int(entry.BuyQuantity) })
			e.Field("get_quantity", func(e *jx.Encoder) { e.Int(entry.GetQuantity) })
		}
		if entry.FreeShipping {
			e.Field("free_shipping", func(e *jx.Encoder) { e.Bool(true) })
		}
		e.Field("amount", func(e *jx.Encoder) { e.Str(entry.Amount.String()) })
		if len(entry.Items) > 0 {
			e.Field("items", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, fp := range sortedItemKeys(entry.Items) {
						d := entry.Items[fp]
						e.Field(fp, func(e *jx.Encoder) {
							e.Obj(func(e *jx.Encoder) {
								e.Field("quantity", func(e *jx.Encoder) { e.Int(d.Quantity) })
								e.Field("amount", func(e *jx.Encoder) { e.Str(d.Amount.String()) })
							})
						})
					}
				})
			})
		}
	})
}

func decodeEntry(d *jx.Decoder) (Entry, error) {
	entry := Entry{Items: make(map[string]ItemDiscount)}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "promotion_id":
			entry.PromotionID, err = d.Str()
		case "name":
			entry.Name, err = d.Str()
		case "type":
			var s string
			if s, err = d.Str(); err == nil {
				entry.Type = promotion.Type(s)
			}
		case "target":
			var s string
			if s, err = d.Str(); err == nil {
				entry.Target = promotion.Target(s)
			}
		case "code":
			entry.Code, err = d.Str()
		case "value":
			entry.Value, err = decodeDecimal(d)
		case "buy_quantity":
			entry.BuyQuantity, err = d.Int()
		case "get_quantity":
			entry.GetQuantity, err = d.Int()
		case "free_shipping":
			entry.FreeShipping, err = d.Bool()
		case "amount":
			entry.Amount, err = decodeDecimal(d)
		case "items":
			return d.Obj(func(d *jx.Decoder, fp string) error {
				item, err := decodeItemDiscount(d)
				if err != nil {
					return err
				}
				entry.Items[fp] = item
				return nil
			})
		default:
			return d.Skip()
		}
		return err
	})
	return entry, err
}

func decodeItemDiscount(d *jx.Decoder) (ItemDiscount, error) {
	var item ItemDiscount
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "quantity":
			item.Quantity, err = d.Int()
		case "amount":
			item.Amount, err = decodeDecimal(d)
		default:
			return d.Skip()
		}
		return err
	})
	return item, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decimal %q", s)
	}
	return v, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedItemKeys(m map[string]ItemDiscount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
