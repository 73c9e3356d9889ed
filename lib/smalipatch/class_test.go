// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package smalipatch

import (
	"testing"
)

func TestClassPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dotted", "com.example.app.Hook", "com/example/app/Hook.smali"},
		{"pre-slashed", "com/example/app/Hook", "com/example/app/Hook.smali"},
		{"accidental suffix", "com.example.Hook.smali", "com/example/Hook.smali"},
		{"surrounding space", "  com.example.Hook ", "com/example/Hook.smali"},
		{"inner class dollar", "com.example.Hook$Inner", "com/example/Hook$Inner.smali"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := ClassPath(test.input)
			if err != nil {
				t.Fatalf("ClassPath(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("ClassPath(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestClassPath_RejectsInvalidNames(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "com..Hook", "com.3bad.Hook", "com.example.", "com/../Hook"} {
		if _, err := ClassPath(input); err == nil {
			t.Errorf("ClassPath(%q) accepted an invalid name", input)
		}
	}
}

func TestClassPathClassNameBijection(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		"com.abnsafita.protection.MyApp",
		"a.b",
		"com.example.Hook$Inner",
	} {
		path, err := ClassPath(name)
		if err != nil {
			t.Fatalf("ClassPath(%q): %v", name, err)
		}
		if got := ClassName(path); got != name {
			t.Errorf("ClassName(ClassPath(%q)) = %q, want the original", name, got)
		}
	}
}

func TestDeclaredClass(t *testing.T) {
	t.Parallel()

	payload := []byte(`.class public final Lcom/example/app/Hook;
.super Landroid/app/Application;
`)
	got, err := DeclaredClass(payload)
	if err != nil {
		t.Fatalf("DeclaredClass: %v", err)
	}
	if got != "com.example.app.Hook" {
		t.Errorf("DeclaredClass = %q, want com.example.app.Hook", got)
	}
}

func TestDeclaredClass_NoDirective(t *testing.T) {
	t.Parallel()

	if _, err := DeclaredClass([]byte("# not a class\n")); err == nil {
		t.Fatal("DeclaredClass accepted a payload without a class directive")
	}
}
