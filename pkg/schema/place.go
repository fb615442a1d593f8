package schema

import "strings"

// Place identifies the UI surface requesting an expansion. The engine only
// uses it as a policy key.
type Place string

const (
	PlaceMainMenu         Place = "MainMenu"
	PlaceMainToolbar      Place = "MainToolbar"
	PlaceNavBarToolbar    Place = "NavBarToolbar"
	PlaceEditorPopup      Place = "EditorPopup"
	PlaceProjectViewPopup Place = "ProjectViewPopup"
	PlaceKeyboardShortcut Place = "keyboard shortcut"
	PlaceActionSearch     Place = "GoToAction"
	PlaceUnknown          Place = "unknown"
)

// IsPopupPlace reports whether the place is a context menu.
func IsPopupPlace(p Place) bool {
	return strings.HasSuffix(string(p), "Popup") || strings.HasPrefix(string(p), "popup@")
}

// IsToolbarPlace reports whether the place is a toolbar.
func IsToolbarPlace(p Place) bool {
	return strings.HasSuffix(string(p), "Toolbar") || strings.HasPrefix(string(p), "toolbar@")
}

// IsMainMenuPlace reports whether the place is the main menu bar.
func IsMainMenuPlace(p Place) bool {
	return p == PlaceMainMenu
}

// IsShortcutPlace reports whether the update was triggered by a key binding.
func IsShortcutPlace(p Place) bool {
	return p == PlaceKeyboardShortcut
}
