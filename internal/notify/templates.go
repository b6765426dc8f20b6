package notify

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// ErrNoTemplate means no feedback text exists for the requested language.
var ErrNoTemplate = errors.New("no feedback template")

// Templates renders localized feedback texts. Lookups are strict: a message
// missing in the requested language does not fall back to another one.
type Templates struct {
	bundle *i18n.Bundle
}

// LoadTemplates loads the built-in locales, then every *.yaml file in dir
// (if set), which may add languages or override built-in texts.
func LoadTemplates(defaultLang, dir string) (*Templates, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	entries, err := embeddedLocales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		data, err := embeddedLocales.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(data, entry.Name()); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", entry.Name(), err)
		}
	}
	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			if _, err := bundle.LoadMessageFile(path); err != nil {
				return nil, fmt.Errorf("load locale %s: %w", path, err)
			}
		}
	}
	return &Templates{bundle: bundle}, nil
}

// Render returns the text for key in lang.
func (t *Templates) Render(lang, key string) (string, error) {
	if key == "" {
		return "", ErrNoTemplate
	}
	want, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "", fmt.Errorf("%w: language %q", ErrNoTemplate, lang)
	}
	localizer := i18n.NewLocalizer(t.bundle, want.String())
	text, tag, err := localizer.LocalizeWithTag(&i18n.LocalizeConfig{MessageID: key})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrNoTemplate, lang, key, err)
	}
	wantBase, _ := want.Base()
	gotBase, _ := tag.Base()
	if wantBase != gotBase {
		return "", fmt.Errorf("%w: %s/%s", ErrNoTemplate, lang, key)
	}
	return text, nil
}

func (t *Templates) Languages() []string {
	tags := t.bundle.LanguageTags()
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.String())
	}
	return out
}
