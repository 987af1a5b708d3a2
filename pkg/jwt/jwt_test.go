package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-engine/pkg/jwt"
)

func TestGenerateYParse_IdaYVuelta(t *testing.T) {
	tok, err := jwt.Generate("secreto", "user-1", "company-1", "emisor", "dte-engine", 15)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	userID, companyID, role, err := jwt.Parse("secreto", tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, "company-1", companyID)
	assert.Equal(t, "emisor", role)
}

func TestParse_SecretoIncorrecto(t *testing.T) {
	tok, err := jwt.Generate("secreto", "user-1", "company-1", "operador", "dte-engine", 15)
	require.NoError(t, err)

	_, _, _, err = jwt.Parse("otro", tok)
	assert.Error(t, err)
}

func TestParse_Expirado(t *testing.T) {
	tok, err := jwt.Generate("secreto", "user-1", "company-1", "emisor", "dte-engine", -1)
	require.NoError(t, err)

	_, _, _, err = jwt.Parse("secreto", tok)
	assert.Error(t, err, "un token vencido nunca se acepta")
}

func TestGenerate_SecretoVacio(t *testing.T) {
	_, err := jwt.Generate("", "user-1", "company-1", "emisor", "dte-engine", 15)
	assert.Error(t, err)
}
