package intent

// Confidences holds the fixed score each rule reports. The values are only
// displayed and persisted; nothing branches on them.
type Confidences struct {
	Volume     float64 `json:"volume"`
	Window     float64 `json:"window"`
	ScreenRead float64 `json:"screen_read"`
	Click      float64 `json:"click"`
	Key        float64 `json:"key"`
	Scroll     float64 `json:"scroll"`
	Type       float64 `json:"type"`
	TypeNoText float64 `json:"type_no_text"`
	Voice      float64 `json:"voice"`
	Help       float64 `json:"help"`
	Greeting   float64 `json:"greeting"`
	Chat       float64 `json:"chat"`
	Unknown    float64 `json:"unknown"`
}

// DefaultConfidences returns the stock rule scores
func DefaultConfidences() Confidences {
	return Confidences{
		Volume:     0.9,
		Window:     0.9,
		ScreenRead: 0.9,
		Click:      0.8,
		Key:        0.8,
		Scroll:     0.8,
		Type:       0.7,
		TypeNoText: 0.5,
		Voice:      0.9,
		Help:       1.0,
		Greeting:   0.9,
		Chat:       0.5,
		Unknown:    0.1,
	}
}

// Merge returns c with every non-zero field of o applied
func (c Confidences) Merge(o Confidences) Confidences {
	pick := func(base, override float64) float64 {
		if override > 0 && override <= 1 {
			return override
		}
		return base
	}
	return Confidences{
		Volume:     pick(c.Volume, o.Volume),
		Window:     pick(c.Window, o.Window),
		ScreenRead: pick(c.ScreenRead, o.ScreenRead),
		Click:      pick(c.Click, o.Click),
		Key:        pick(c.Key, o.Key),
		Scroll:     pick(c.Scroll, o.Scroll),
		Type:       pick(c.Type, o.Type),
		TypeNoText: pick(c.TypeNoText, o.TypeNoText),
		Voice:      pick(c.Voice, o.Voice),
		Help:       pick(c.Help, o.Help),
		Greeting:   pick(c.Greeting, o.Greeting),
		Chat:       pick(c.Chat, o.Chat),
		Unknown:    pick(c.Unknown, o.Unknown),
	}
}
