package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"luna/internal/store"
)

const (
	ChangeUserName      = "change_user_name"
	ChangeAssistantName = "change_assistant_name"
	GetUserName         = "get_user_name"
	GetAssistantName    = "get_assistant_name"
	Shutdown            = "shutdown"
	OpenApp             = "open_app"
	SearchWeb           = "search_web"
	OpenTab             = "open_tab"
	CloseTab            = "close_tab"

	SearchURL = "https://www.google.com/search?q="
)

// Builtin registers the local actions on r. apps maps spoken names to
// launch commands and may be nil.
func Builtin(r *Registry, settings Settings, launcher Launcher, apps map[string]string) error {
	b := &builtin{settings: settings, launcher: launcher, apps: apps, registry: r}

	for _, a := range []Action{
		{
			Name:        ChangeUserName,
			Description: "Change the name the assistant calls the user",
			Parameters:  Object(map[string]string{"new_name": "The new name for the user"}),
			Run:         b.changeUserName,
		},
		{
			Name:        ChangeAssistantName,
			Description: "Change the assistant's own name",
			Parameters:  Object(map[string]string{"new_name": "The new name for the assistant"}),
			Run:         b.changeAssistantName,
		},
		{
			Name:        GetUserName,
			Description: "Tell the user their name",
			Run:         b.getUserName,
		},
		{
			Name:        GetAssistantName,
			Description: "Tell the user the assistant's name",
			Run:         b.getAssistantName,
		},
		{
			Name:        Shutdown,
			Description: "Shut the assistant down",
			Run:         b.shutdown,
		},
		{
			Name:        OpenApp,
			Description: "Open an application on this computer by name",
			Parameters:  Object(map[string]string{"app": "Name of the application, for example firefox"}),
			Run:         b.openApp,
		},
		{
			Name:        SearchWeb,
			Description: "Search the web and show the results in the browser",
			Parameters:  Object(map[string]string{"query": "What to search for"}),
			Run:         b.searchWeb,
		},
		{
			Name:        OpenTab,
			Description: "Open a web page in a new browser tab",
			Parameters:  Object(map[string]string{"url": "Address of the page"}),
			Run:         b.openTab,
		},
		{
			Name:        CloseTab,
			Description: "Close the current browser tab",
			Run:         b.closeTab,
		},
	} {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

type builtin struct {
	settings Settings
	launcher Launcher
	apps     map[string]string
	registry *Registry
}

func (b *builtin) changeUserName(ctx context.Context, params map[string]any) (string, error) {
	name := param(params, "new_name")
	if err := b.settings.Set(ctx, store.KeyUserName, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Okay, I'll call you %s now.", name), nil
}

func (b *builtin) changeAssistantName(ctx context.Context, params map[string]any) (string, error) {
	name := param(params, "new_name")
	if err := b.settings.Set(ctx, store.KeyAssistantName, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("My new name is %s.", name), nil
}

func (b *builtin) getUserName(ctx context.Context, _ map[string]any) (string, error) {
	return fmt.Sprintf("Your name is %s.", b.settings.UserName(ctx)), nil
}

func (b *builtin) getAssistantName(ctx context.Context, _ map[string]any) (string, error) {
	return fmt.Sprintf("My name is %s.", b.settings.AssistantName(ctx)), nil
}

func (b *builtin) shutdown(_ context.Context, _ map[string]any) (string, error) {
	b.registry.RequestShutdown()
	return "Okay, shutting down.", nil
}

func (b *builtin) openApp(ctx context.Context, params map[string]any) (string, error) {
	app := param(params, "app")

	command, ok := b.apps[strings.ToLower(app)]
	if !ok {
		command = app
	}

	if err := b.launcher.OpenApp(ctx, command); err != nil {
		return fmt.Sprintf("Sorry, I couldn't open %s. Error: %v", app, err), nil
	}
	return fmt.Sprintf("Opening %s.", app), nil
}

func (b *builtin) searchWeb(ctx context.Context, params map[string]any) (string, error) {
	query := param(params, "query")
	if err := b.launcher.OpenURL(ctx, SearchURL+url.QueryEscape(query)); err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	return fmt.Sprintf("Here are the search results for %s.", query), nil
}

func (b *builtin) openTab(ctx context.Context, params map[string]any) (string, error) {
	target := param(params, "url")
	if err := b.launcher.OpenURL(ctx, withScheme(target)); err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	return fmt.Sprintf("Opening %s in a new tab.", target), nil
}

func (b *builtin) closeTab(context.Context, map[string]any) (string, error) {
	return "Closing tabs is not supported yet. You may need a browser extension.", nil
}

func withScheme(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}
