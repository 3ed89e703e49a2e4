package keycode

// Consumer is a usage code on the Consumer page (0x0C). Media and launcher
// keys live here rather than on the keyboard page; they travel in their own
// report.
type Consumer uint16

const (
	ConsumerNone           Consumer = 0x000
	ConsumerBrightnessUp   Consumer = 0x06F
	ConsumerBrightnessDown Consumer = 0x070
	ConsumerScanNext       Consumer = 0x0B5
	ConsumerScanPrev       Consumer = 0x0B6
	ConsumerStop           Consumer = 0x0B7
	ConsumerEject          Consumer = 0x0B8
	ConsumerPlayPause      Consumer = 0x0CD
	ConsumerMute           Consumer = 0x0E2
	ConsumerVolumeUp       Consumer = 0x0E9
	ConsumerVolumeDown     Consumer = 0x0EA
	ConsumerEmail          Consumer = 0x18A
	ConsumerCalculator     Consumer = 0x192
	ConsumerBrowserSearch  Consumer = 0x221
	ConsumerBrowserHome    Consumer = 0x223
	ConsumerBrowserBack    Consumer = 0x224
	ConsumerBrowserFwd     Consumer = 0x225
)

var consumerNames = map[Consumer]string{
	ConsumerBrightnessUp:   "BRIU",
	ConsumerBrightnessDown: "BRID",
	ConsumerScanNext:       "MNXT",
	ConsumerScanPrev:       "MPRV",
	ConsumerStop:           "MSTP",
	ConsumerEject:          "EJCT",
	ConsumerPlayPause:      "MPLY",
	ConsumerMute:           "MUTE",
	ConsumerVolumeUp:       "VOLU",
	ConsumerVolumeDown:     "VOLD",
	ConsumerEmail:          "MAIL",
	ConsumerCalculator:     "CALC",
	ConsumerBrowserSearch:  "WSCH",
	ConsumerBrowserHome:    "WHOM",
	ConsumerBrowserBack:    "WBAK",
	ConsumerBrowserFwd:     "WFWD",
}

var consumersByName map[string]Consumer

func init() {
	consumersByName = make(map[string]Consumer, len(consumerNames))
	for c, n := range consumerNames {
		consumersByName[n] = c
	}
}

// Name returns the canonical name of a consumer usage, or an empty string.
func (c Consumer) Name() string {
	return consumerNames[c]
}

// LookupConsumer resolves a consumer usage name, case-insensitively and with
// an optional "KC_" prefix, mirroring Lookup for the keyboard page.
func LookupConsumer(name string) (Consumer, bool) {
	n := normalizeName(name)
	c, ok := consumersByName[n]
	return c, ok
}
