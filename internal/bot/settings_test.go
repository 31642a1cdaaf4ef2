package bot

import (
	"reflect"
	"testing"
	"time"

	"fwdbot/internal/config"
	"fwdbot/internal/storage"
	"fwdbot/internal/transport"
)

func TestBuildOptions(t *testing.T) {
	t.Parallel()

	set := storage.Settings{
		AllowKinds:    []string{"document", "video"},
		Extensions:    []string{"mkv"},
		Keywords:      []string{"s01"},
		SizeMode:      storage.SizeLessThan,
		SizeLimit:     1 << 30,
		Caption:       "via my channel",
		ButtonText:    "Join",
		ButtonURL:     "https://t.me/x",
		Protect:       true,
		ForwardTag:    true,
		SkipDuplicate: true,
	}
	cfg := &config.Config{
		Pacing: config.PacingConfig{ItemDelay: "250ms", BatchCooldown: "3s"},
	}

	opt := buildOptions(set, cfg)

	if !opt.Filter.AllowKinds[transport.KindDocument] || !opt.Filter.AllowKinds[transport.KindVideo] {
		t.Fatalf("allow kinds not mapped: %v", opt.Filter.AllowKinds)
	}
	if opt.Filter.AllowKinds[transport.KindPhoto] {
		t.Fatalf("photo should not be allowed")
	}
	if opt.Filter.SizeMode != "less" || opt.Filter.SizeLimit != 1<<30 {
		t.Fatalf("size bound not mapped: %v %d", opt.Filter.SizeMode, opt.Filter.SizeLimit)
	}
	if !opt.SkipDuplicate || !opt.Protect || !opt.ForwardTag {
		t.Fatalf("flags not mapped: %+v", opt)
	}
	if opt.ItemDelay != 250*time.Millisecond || opt.BatchCooldown != 3*time.Second {
		t.Fatalf("pacing not mapped: %v %v", opt.ItemDelay, opt.BatchCooldown)
	}
	want := [][]transport.Button{{{Text: "Join", URL: "https://t.me/x"}}}
	if !reflect.DeepEqual(opt.Buttons, want) {
		t.Fatalf("buttons = %+v", opt.Buttons)
	}
}

func TestBuildOptionsEmptySettingsAllowEverything(t *testing.T) {
	t.Parallel()

	opt := buildOptions(storage.DefaultSettings(), &config.Config{})
	if len(opt.Filter.AllowKinds) != 0 {
		t.Fatalf("empty settings must not restrict kinds")
	}
	if !opt.Filter.Allows(transport.Item{Kind: transport.KindSticker}) {
		t.Fatalf("default filter rejected an item")
	}
	if opt.Buttons != nil {
		t.Fatalf("no button configured, got %+v", opt.Buttons)
	}
}

func TestApplySetting(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		args  []string
		check func(t *testing.T, set storage.Settings)
		fails bool
	}{
		{
			name: "caption",
			args: []string{"caption", "brought", "to", "you"},
			check: func(t *testing.T, set storage.Settings) {
				if set.Caption != "brought to you" {
					t.Fatalf("caption = %q", set.Caption)
				}
			},
		},
		{
			name: "caption clear",
			args: []string{"caption", "-"},
			check: func(t *testing.T, set storage.Settings) {
				if set.Caption != "" {
					t.Fatalf("caption = %q", set.Caption)
				}
			},
		},
		{
			name: "button",
			args: []string{"button", "Join", "us", "|", "https://t.me/x"},
			check: func(t *testing.T, set storage.Settings) {
				if set.ButtonText != "Join us" || set.ButtonURL != "https://t.me/x" {
					t.Fatalf("button = %q %q", set.ButtonText, set.ButtonURL)
				}
			},
		},
		{
			name:  "button without url",
			args:  []string{"button", "Join"},
			fails: true,
		},
		{
			name: "size less",
			args: []string{"size", "less", "1000"},
			check: func(t *testing.T, set storage.Settings) {
				if set.SizeMode != storage.SizeLessThan || set.SizeLimit != 1000 {
					t.Fatalf("size = %v %d", set.SizeMode, set.SizeLimit)
				}
			},
		},
		{
			name: "size none resets limit",
			args: []string{"size", "none"},
			check: func(t *testing.T, set storage.Settings) {
				if set.SizeMode != storage.SizeNone || set.SizeLimit != 0 {
					t.Fatalf("size = %v %d", set.SizeMode, set.SizeLimit)
				}
			},
		},
		{
			name:  "size bad bytes",
			args:  []string{"size", "more", "tiny"},
			fails: true,
		},
		{
			name: "ext",
			args: []string{"ext", "mkv", "mp4"},
			check: func(t *testing.T, set storage.Settings) {
				if !reflect.DeepEqual(set.Extensions, []string{"mkv", "mp4"}) {
					t.Fatalf("extensions = %v", set.Extensions)
				}
			},
		},
		{
			name: "keywords clear",
			args: []string{"keywords", "-"},
			check: func(t *testing.T, set storage.Settings) {
				if set.Keywords != nil {
					t.Fatalf("keywords = %v", set.Keywords)
				}
			},
		},
		{
			name:  "unknown",
			args:  []string{"volume", "11"},
			fails: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			set := storage.Settings{
				SizeMode: storage.SizeMoreThan, SizeLimit: 5,
				Keywords: []string{"old"},
			}
			err := applySetting(&set, tc.args)
			if tc.fails {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("applySetting: %v", err)
			}
			tc.check(t, set)
		})
	}
}

func TestToggleList(t *testing.T) {
	t.Parallel()

	got := toggleList(nil, "video")
	if !reflect.DeepEqual(got, []string{"video"}) {
		t.Fatalf("add: %v", got)
	}
	got = toggleList(got, "video")
	if len(got) != 0 {
		t.Fatalf("remove: %v", got)
	}
}
