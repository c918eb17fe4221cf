package datasource

import (
	"encoding/json"
	"testing"

	"github.com/chicoryai/taskrunner/internal/model"
)

func TestValidate_GitHubRequiresAccessToken(t *testing.T) {
	err := Validate(model.DataSourceGitHub, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing access_token")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "access_token" {
		t.Errorf("Missing = %v, want [access_token]", verr.Missing)
	}

	if err := Validate(model.DataSourceGitHub, json.RawMessage(`{"access_token":"tok"}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_SnowflakeEitherPasswordOrPrivateKey(t *testing.T) {
	base := `{"account":"acct","user":"u"}`
	if err := Validate(model.DataSourceSnowflake, json.RawMessage(base)); err == nil {
		t.Fatal("expected error: neither password nor private_key set")
	}

	withPassword := `{"account":"acct","user":"u","password":"p"}`
	if err := Validate(model.DataSourceSnowflake, json.RawMessage(withPassword)); err != nil {
		t.Errorf("unexpected error with password set: %v", err)
	}

	withKey := `{"account":"acct","user":"u","private_key":"k"}`
	if err := Validate(model.DataSourceSnowflake, json.RawMessage(withKey)); err != nil {
		t.Errorf("unexpected error with private_key set: %v", err)
	}
}

func TestValidate_UploadTypesRequireNoFields(t *testing.T) {
	for _, typ := range []model.DataSourceType{
		model.DataSourceCSVUpload, model.DataSourceXLSXUpload,
		model.DataSourceGenericFileUpload, model.DataSourceFolderUpload,
	} {
		if err := Validate(typ, json.RawMessage(`{}`)); err != nil {
			t.Errorf("type %s: unexpected error: %v", typ, err)
		}
	}
}

func TestValidate_UnknownTypeRejected(t *testing.T) {
	if err := Validate(model.DataSourceType("not-a-type"), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
