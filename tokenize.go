/*
Copyright 2024 Junta Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package junta

import (
	"crypto/sha256"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/internal/tokenization"
)

// instrumentTokenizer returns the tokenization service keyed off the server
// secret. Saved customer and method references are tokenized before they
// reach the database.
func instrumentTokenizer() (*tokenization.TokenizationService, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	key := sha256.Sum256([]byte(conf.Server.SecretKey))
	return tokenization.NewTokenizationService(key[:]), nil
}

func tokenizeRef(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	svc, err := instrumentTokenizer()
	if err != nil {
		return "", err
	}
	return svc.Tokenize(value)
}

// detokenizeRef resolves a stored reference back to its gateway value.
// References written before tokenization was introduced are returned as-is.
func detokenizeRef(value string) string {
	svc, err := instrumentTokenizer()
	if err != nil {
		return value
	}
	plain, err := svc.Detokenize(value)
	if err != nil {
		return value
	}
	return plain
}
